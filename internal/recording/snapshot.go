package recording

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spectator-recorder/internal/spectator"
)

// Snapshot is the summary written once when a session completes. Id lists are
// always in ascending order.
type Snapshot struct {
	RunID           string              `json:"run_id,omitempty"`
	ProtocolVersion string              `json:"protocol_version"`
	Endpoint        spectator.Endpoint  `json:"endpoint"`
	SessionID       string              `json:"session_id"`
	EncryptionKey   string              `json:"encryption_key,omitempty"`
	Metadata        *spectator.Metadata `json:"metadata"`
	KeyFrames       []uint32            `json:"keyframes"`
	Chunks          []uint32            `json:"game_data_chunks"`
	Storage         string              `json:"storage"`
	CompletedAt     time.Time           `json:"completed_at"`
}

// SnapshotWriter persists finalization snapshots.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, s *Snapshot) error
}

// FileSnapshotWriter writes snapshots as JSON to <Dir>/<platform>/<session>.json.
type FileSnapshotWriter struct {
	Dir string
}

// NewFileSnapshotWriter returns a writer rooted at dir.
func NewFileSnapshotWriter(dir string) *FileSnapshotWriter {
	return &FileSnapshotWriter{Dir: dir}
}

// Path returns the file a snapshot for the given session is written to.
func (w *FileSnapshotWriter) Path(platformID, sessionID string) string {
	return filepath.Join(w.Dir, platformID, sessionID+".json")
}

// WriteSnapshot implements SnapshotWriter. The file is replaced atomically.
func (w *FileSnapshotWriter) WriteSnapshot(ctx context.Context, s *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.SessionID == "" || s.Endpoint.PlatformID == "" {
		return errors.New("snapshot needs a session id and platform id")
	}
	path := w.Path(s.Endpoint.PlatformID, s.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot loads a snapshot file written by FileSnapshotWriter.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &s, nil
}
