package chat

// Playback is a handle on one playing audio clip.
type Playback interface {
	Stop()
}

// Player turns synthesized audio bytes into audible output. At most one clip
// plays at a time: the controller stops the previous playback before
// starting the next, so implementations need no queueing of their own.
type Player interface {
	Play(audio []byte) (Playback, error)
}
