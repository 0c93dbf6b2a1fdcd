package models

// Settings is the flat client preferences record. Persisted as one JSON blob;
// unknown keys in the stored blob are ignored, missing keys keep defaults.
type Settings struct {
	Theme          string  `json:"theme"`
	SoundEffects   bool    `json:"soundEffects"`
	VoiceResponses bool    `json:"voiceResponses"`
	AutoVoice      bool    `json:"autoVoice"`
	StreamingMode  bool    `json:"streamingMode"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"maxTokens"`
	MemoryEnabled  bool    `json:"memoryEnabled"`
}

// DefaultSettings returns the fixed defaults every load merges over.
func DefaultSettings() Settings {
	return Settings{
		Theme:          "dark",
		SoundEffects:   true,
		VoiceResponses: false,
		AutoVoice:      false,
		StreamingMode:  false,
		Temperature:    0.8,
		MaxTokens:      2000,
		MemoryEnabled:  true,
	}
}

// Stats tracks per-run conversation statistics. Ephemeral: reset on chat
// clear, recomputed from history length on reload.
type Stats struct {
	MessageCount  int       `json:"messageCount"`
	ResponseTimes []float64 `json:"responseTimes"` // seconds, send order
}

// AverageResponseTime returns the mean of the recorded samples, 0 when empty.
func (s Stats) AverageResponseTime() float64 {
	if len(s.ResponseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, rt := range s.ResponseTimes {
		sum += rt
	}
	return sum / float64(len(s.ResponseTimes))
}
