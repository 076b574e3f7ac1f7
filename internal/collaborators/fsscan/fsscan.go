// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fsscan is the filesystem collaborator: readFile, readDir, stat,
// with a streaming reader bounded by a configurable high-water mark so a
// single oversized file can't exhaust a step's memory budget.
package fsscan

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/stepflow/stepflow/internal/engineerr"
)

// Config tunes the service's resource ceilings.
type Config struct {
	// HighWaterMarkBytes caps how much of a file ReadFile will stream
	// before returning engineerr.ResourceExhausted. Zero means the
	// default.
	HighWaterMarkBytes int64
	// ChunkSize is the buffer size the streaming reader pulls in.
	// Zero means the default.
	ChunkSize int
}

const (
	defaultHighWaterMark = 32 * 1024 * 1024
	defaultChunkSize     = 64 * 1024
)

func (c Config) withDefaults() Config {
	if c.HighWaterMarkBytes <= 0 {
		c.HighWaterMarkBytes = defaultHighWaterMark
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	return c
}

// Service is the filesystem collaborator the step engine and analysis
// queue drive for project-tree reads.
type Service struct {
	cfg Config
}

// New builds a Service from cfg.
func New(cfg Config) *Service {
	return &Service{cfg: cfg.withDefaults()}
}

// Entry is one result row from ReadDir.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Info is the result of Stat.
type Info struct {
	Path    string
	IsDir   bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// Stat returns path's metadata, translating a missing file into
// engineerr.NotFound so callers can distinguish it from other I/O errors.
func (s *Service) Stat(path string) (*Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engineerr.NewNotFound("file", path)
		}
		return nil, err
	}
	return &Info{
		Path:    path,
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
	}, nil
}

// ReadDir lists dir's immediate children, sorted by name (os.ReadDir's own
// contract), translating a missing directory into engineerr.NotFound.
func (s *Service) ReadDir(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engineerr.NewNotFound("directory", dir)
		}
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:    e.Name(),
			IsDir:   e.IsDir(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return out, nil
}

// boundedReader wraps a buffered file reader, failing with
// engineerr.ResourceExhausted once more than limit bytes have been read
// rather than silently truncating or reading an unbounded file into
// memory.
type boundedReader struct {
	r         *bufio.Reader
	f         *os.File
	limit     int64
	readSoFar int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.readSoFar >= b.limit {
		return 0, engineerr.NewResourceExhausted("file read exceeded high-water mark")
	}
	if remaining := b.limit - b.readSoFar; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := b.r.Read(p)
	b.readSoFar += int64(n)
	return n, err
}

func (b *boundedReader) Close() error {
	return b.f.Close()
}

// ReadFile opens path for streaming, returning a ReadCloser that errors
// with engineerr.ResourceExhausted if the caller reads past the
// configured high-water mark rather than buffering the whole file.
// Translates a missing file into engineerr.NotFound.
func (s *Service) ReadFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engineerr.NewNotFound("file", path)
		}
		return nil, err
	}
	return &boundedReader{
		r:     bufio.NewReaderSize(f, s.cfg.ChunkSize),
		f:     f,
		limit: s.cfg.HighWaterMarkBytes,
	}, nil
}

// ReadFileString reads all of path, up to the high-water mark, and
// returns it as a string. Convenience wrapper over ReadFile for callers
// that don't need streaming (e.g. a step that passes a whole file to the
// AI provider).
func (s *Service) ReadFileString(path string) (string, error) {
	rc, err := s.ReadFile(path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Walk invokes fn once per regular file under root, skipping anything fn
// or the OS reports an error for. It stops early if fn returns false.
func (s *Service) Walk(root string, fn func(path string, info *Info) bool) error {
	return filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if fi.IsDir() {
			return nil
		}
		info := &Info{Path: path, IsDir: false, Size: fi.Size(), Mode: fi.Mode(), ModTime: fi.ModTime()}
		if !fn(path, info) {
			return filepath.SkipAll
		}
		return nil
	})
}
