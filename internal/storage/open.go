// Package storage holds the sink backends a recording can be written to: plain
// files, an S3 bucket, or a SQLite database.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"spectator-recorder/internal/platform/config"
	"spectator-recorder/internal/recording"
)

// Backend is a sink that can enumerate its contents and must be closed.
type Backend interface {
	recording.Sink
	recording.Inventory
	Close() error
}

var (
	_ Backend = (*Disk)(nil)
	_ Backend = (*S3)(nil)
	_ Backend = (*SQLite)(nil)
)

// Options selects and configures a backend.
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
	S3         S3Config
}

// OptionsFromConfig maps the storage and s3 config sections to Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Backend:    cfg.Storage.Backend,
		Dir:        cfg.Storage.Dir,
		SQLitePath: cfg.Storage.SQLitePath,
		S3: S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
		},
	}
}

// Open returns the configured backend for one session. Local backends hold an
// exclusive lock on their location until Close.
func Open(ctx context.Context, opts Options, platformID, sessionID string) (Backend, error) {
	switch opts.Backend {
	case config.BackendDisk, "":
		d, err := NewDisk(opts.Dir, platformID, sessionID)
		if err != nil {
			return nil, err
		}
		return withLock(d, filepath.Join(d.Path(), ".lock"))
	case config.BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "media.db")
		}
		lock, err := AcquireLock(fmt.Sprintf("%s.%s.%s.lock", path, platformID, sessionID))
		if err != nil {
			return nil, err
		}
		s, err := OpenSQLite(path, platformID, sessionID)
		if err != nil {
			_ = lock.Release()
			return nil, err
		}
		return &locked{Backend: s, lock: lock}, nil
	case config.BackendS3:
		return NewS3(ctx, opts.S3, platformID, sessionID)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

func withLock(b Backend, path string) (Backend, error) {
	lock, err := AcquireLock(path)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return &locked{Backend: b, lock: lock}, nil
}

// locked releases its lock after closing the wrapped backend.
type locked struct {
	Backend
	lock *Lock
}

func (l *locked) Close() error {
	return errors.Join(l.Backend.Close(), l.lock.Release())
}
