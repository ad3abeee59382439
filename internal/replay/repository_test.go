package replay

import (
	"errors"
	"testing"

	"spectator-recorder/internal/recording"
)

var testKey = SessionKey{PlatformID: "KR", SessionID: "6654667050"}

func TestInMemoryRepository_Register(t *testing.T) {
	repo := NewInMemoryRepository()

	t.Run("success_creates_session", func(t *testing.T) {
		if err := repo.Register(testKey, recording.KindChunk, 1, []byte("c1")); err != nil {
			t.Fatalf("Register: %v", err)
		}
		view, ok := repo.Snapshot(testKey)
		if !ok {
			t.Fatal("Snapshot: ok false")
		}
		if view.Ended {
			t.Error("ended should be false")
		}
		if len(view.ChunkIDs) != 1 || view.ChunkIDs[0] != 1 {
			t.Errorf("Snapshot: got %v", view.ChunkIDs)
		}
		if view.LastChunkAt.IsZero() {
			t.Error("LastChunkAt should be set")
		}
	})

	t.Run("duplicate_id_keeps_first_payload", func(t *testing.T) {
		if err := repo.Register(testKey, recording.KindChunk, 1, []byte("other")); err != nil {
			t.Fatalf("duplicate Register: %v", err)
		}
		data, ok := repo.Payload(testKey, recording.KindChunk, 1)
		if !ok || string(data) != "c1" {
			t.Errorf("Payload: ok=%v data=%q", ok, data)
		}
	})

	t.Run("out_of_order_ids_sorted", func(t *testing.T) {
		_ = repo.Register(testKey, recording.KindChunk, 3, []byte("c3"))
		_ = repo.Register(testKey, recording.KindChunk, 2, []byte("c2"))
		_ = repo.Register(testKey, recording.KindKeyFrame, 1, []byte("k1"))
		view, _ := repo.Snapshot(testKey)
		if len(view.ChunkIDs) != 3 || view.ChunkIDs[0] != 1 || view.ChunkIDs[2] != 3 {
			t.Errorf("expected sorted chunk ids, got %v", view.ChunkIDs)
		}
		if view.LastChunkID() != 3 || view.LastKeyFrameID() != 1 {
			t.Errorf("last ids: chunk=%d keyframe=%d", view.LastChunkID(), view.LastKeyFrameID())
		}
	})

	t.Run("kinds_are_separate", func(t *testing.T) {
		if _, ok := repo.Payload(testKey, recording.KindKeyFrame, 3); ok {
			t.Error("keyframe 3 was never registered")
		}
	})
}

func TestInMemoryRepository_Register_copiesData(t *testing.T) {
	repo := NewInMemoryRepository()
	buf := []byte("abc")
	_ = repo.Register(testKey, recording.KindChunk, 1, buf)
	buf[0] = 'z'

	data, _ := repo.Payload(testKey, recording.KindChunk, 1)
	if string(data) != "abc" {
		t.Errorf("stored payload aliased caller buffer: %q", data)
	}
}

func TestInMemoryRepository_Register_after_end(t *testing.T) {
	repo := NewInMemoryRepository()
	_ = repo.Register(testKey, recording.KindChunk, 1, nil)
	if err := repo.EndSession(testKey); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	err := repo.Register(testKey, recording.KindChunk, 2, nil)
	if !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	view, _ := repo.Snapshot(testKey)
	if !view.Ended || len(view.ChunkIDs) != 1 {
		t.Errorf("view after end: %+v", view)
	}
}

func TestInMemoryRepository_EndSession_unknown(t *testing.T) {
	repo := NewInMemoryRepository()
	if err := repo.EndSession(testKey); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInMemoryRepository_ActiveSessionCount(t *testing.T) {
	repo := NewInMemoryRepository()
	other := SessionKey{PlatformID: "NA1", SessionID: "2"}
	_ = repo.Register(testKey, recording.KindChunk, 1, nil)
	_ = repo.Register(other, recording.KindChunk, 1, nil)

	if n := repo.ActiveSessionCount(); n != 2 {
		t.Errorf("expected 2 active, got %d", n)
	}
	_ = repo.EndSession(other)
	if n := repo.ActiveSessionCount(); n != 1 {
		t.Errorf("expected 1 active, got %d", n)
	}
}

func TestNewInMemoryRepositoryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(store)
	_ = repo.Register(testKey, recording.KindKeyFrame, 4, []byte("k"))

	st, ok := store.GetSession(testKey)
	if !ok {
		t.Fatal("session not written through to store")
	}
	if _, ok := st.KeyFrames[4]; !ok {
		t.Error("keyframe 4 missing from store")
	}
}
