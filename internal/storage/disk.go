package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Directory names used under a session's base path. They also form the S3 key
// layout so recordings can be moved between backends.
const (
	ChunksDir    = "game_data_chunks"
	KeyFramesDir = "keyframes"
)

// Disk stores each payload as one file:
//
//	<root>/<platform>/<session>/game_data_chunks/<id>
//	<root>/<platform>/<session>/keyframes/<id>
//
// Writes go to a temp file in the same directory and are renamed into place,
// so a reader never sees a partial payload.
type Disk struct {
	basePath string
}

// NewDisk creates the session's directories under root.
func NewDisk(root, platformID, sessionID string) (*Disk, error) {
	if root == "" || platformID == "" || sessionID == "" {
		return nil, errors.New("disk storage needs a root, platform id and session id")
	}
	d := &Disk{basePath: filepath.Join(root, platformID, sessionID)}
	for _, dir := range []string{ChunksDir, KeyFramesDir} {
		if err := os.MkdirAll(filepath.Join(d.basePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return d, nil
}

// OpenDisk opens an existing recording for reading without creating anything.
func OpenDisk(root, platformID, sessionID string) (*Disk, error) {
	base := filepath.Join(root, platformID, sessionID)
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open recording: %s is not a directory", base)
	}
	return &Disk{basePath: base}, nil
}

// Path returns the session's base directory.
func (d *Disk) Path() string {
	return d.basePath
}

func (d *Disk) Describe() string {
	return "DiskStorage: base_path: " + d.basePath
}

func (d *Disk) StoreChunk(ctx context.Context, id uint32, data []byte) error {
	return d.store(ctx, ChunksDir, id, data)
}

func (d *Disk) StoreKeyFrame(ctx context.Context, id uint32, data []byte) error {
	return d.store(ctx, KeyFramesDir, id, data)
}

func (d *Disk) ChunkIDs(ctx context.Context) ([]uint32, error) {
	return d.list(ctx, ChunksDir)
}

func (d *Disk) KeyFrameIDs(ctx context.Context) ([]uint32, error) {
	return d.list(ctx, KeyFramesDir)
}

// ReadChunk returns a stored chunk's payload.
func (d *Disk) ReadChunk(id uint32) ([]byte, error) {
	return os.ReadFile(d.file(ChunksDir, id))
}

// ReadKeyFrame returns a stored keyframe's payload.
func (d *Disk) ReadKeyFrame(id uint32) ([]byte, error) {
	return os.ReadFile(d.file(KeyFramesDir, id))
}

func (d *Disk) Close() error {
	return nil
}

func (d *Disk) file(dir string, id uint32) string {
	return filepath.Join(d.basePath, dir, strconv.FormatUint(uint64(id), 10))
}

func (d *Disk) store(ctx context.Context, dir string, id uint32, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := d.file(dir, id)
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// list returns the ids stored in dir. Files whose names are not ids are ignored.
func (d *Disk) list(ctx context.Context, dir string) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(d.basePath, dir))
	if errors.Is(err, os.ErrNotExist) {
		return []uint32{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	ids := make([]uint32, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if id, ok := parseID(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseID(name string) (uint32, bool) {
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint32(n), true
}
