// Package playback provides the per-room playback queue and its advance protocol.
package playback

// State represents the playback state of one room.
type State int

const (
	StateIdle    State = iota // Nothing playing (queue may hold items)
	StatePlaying              // A stream is active
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}
