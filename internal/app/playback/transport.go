package playback

import "context"

// Call is an attached voice connection returned by Transport.Join.
type Call interface {
	RoomID() string
}

// Handle identifies one active stream started by Transport.StartStream.
type Handle interface {
	ID() string
}

// Transport is the voice/streaming subsystem the coordinator drives.
//
// RegisterCompletion must invoke fn exactly once, on its own goroutine, when the
// stream ends for any reason. If the stream already ended, fn is invoked right away
// (still asynchronously). Stop must not wait for the completion callback.
type Transport interface {
	Join(ctx context.Context, roomID, destination string) (Call, error)
	StartStream(ctx context.Context, call Call, locator string) (Handle, error)
	RegisterCompletion(h Handle, fn func())
	Stop(h Handle) error
	Leave(ctx context.Context, roomID string) error
}
