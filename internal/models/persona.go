package models

// Persona is a named character configuration the backend uses to generate
// responses. The id is immutable after creation.
type Persona struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	PersonalityTraits []string `json:"personality_traits"`
	SpeakingStyle     string   `json:"speaking_style"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`
	Model             string   `json:"model,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	ImageStyle        string   `json:"image_style,omitempty"`
	Temperature       float64  `json:"temperature,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
}
