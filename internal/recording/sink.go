package recording

import (
	"context"
	"errors"
	"fmt"
)

// Sink durably stores chunk and keyframe payloads by id. Storing an id twice is
// allowed; the last write wins. Implementations live in internal/storage.
type Sink interface {
	StoreChunk(ctx context.Context, id uint32, data []byte) error
	StoreKeyFrame(ctx context.Context, id uint32, data []byte) error

	// Describe returns a human-readable description of the backing location.
	Describe() string
}

// Inventory is implemented by sinks that can enumerate what they already hold.
// A Record uses it to seed its ledger when resuming a session.
type Inventory interface {
	ChunkIDs(ctx context.Context) ([]uint32, error)
	KeyFrameIDs(ctx context.Context) ([]uint32, error)
}

// Kind distinguishes the two payload types a session produces.
type Kind string

const (
	KindChunk    Kind = "chunk"
	KindKeyFrame Kind = "keyframe"
)

// ErrOutOfRange is the skip reason for ids outside [1, final].
var ErrOutOfRange = errors.New("id outside the session's declared range")

// Status is the result class of one fetch-and-store attempt.
type Status int

const (
	// Stored means the payload was fetched and the sink accepted it.
	Stored Status = iota
	// AlreadyStored means the ledger already held the id; nothing was called.
	AlreadyStored
	// Skipped means the id was not stored this time; Outcome.Err says why.
	Skipped
)

func (s Status) String() string {
	switch s {
	case Stored:
		return "stored"
	case AlreadyStored:
		return "already_stored"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome reports what happened to a single chunk or keyframe id.
type Outcome struct {
	Kind   Kind
	ID     uint32
	Status Status
	Err    error
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s %d %s: %v", o.Kind, o.ID, o.Status, o.Err)
	}
	return fmt.Sprintf("%s %d %s", o.Kind, o.ID, o.Status)
}

func stored(kind Kind, id uint32) Outcome {
	return Outcome{Kind: kind, ID: id, Status: Stored}
}

func alreadyStored(kind Kind, id uint32) Outcome {
	return Outcome{Kind: kind, ID: id, Status: AlreadyStored}
}

func skipped(kind Kind, id uint32, err error) Outcome {
	return Outcome{Kind: kind, ID: id, Status: Skipped, Err: err}
}
