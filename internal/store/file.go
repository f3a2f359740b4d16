package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Backend persists snapshots.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

const (
	tasksFile  = "tasks.jsonl"
	usersFile  = "users.jsonl"
	boardsFile = "boards.jsonl"
)

// FileBackend keeps one JSON-lines file per store under Dir. Files may carry
// comments and trailing commas; they are stripped on load.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{Dir: dir}
}

func (b *FileBackend) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Tasks, err = readLines[Task](filepath.Join(b.Dir, tasksFile)); err != nil {
		return Snapshot{}, err
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if snap.Users, err = readLines[User](filepath.Join(b.Dir, usersFile)); err != nil {
		return Snapshot{}, err
	}
	if snap.Boards, err = readLines[Board](filepath.Join(b.Dir, boardsFile)); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (b *FileBackend) Save(ctx context.Context, snap Snapshot) error {
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return fmt.Errorf("store: create data dir: %w", err)
	}
	if err := writeLines(filepath.Join(b.Dir, tasksFile), snap.Tasks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeLines(filepath.Join(b.Dir, usersFile), snap.Users); err != nil {
		return err
	}
	return writeLines(filepath.Join(b.Dir, boardsFile), snap.Boards)
}

func (b *FileBackend) Close() error {
	return nil
}

// readLines decodes a stream of JSON values. A missing file is empty.
func readLines[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	var out []T
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, fmt.Errorf("store: decode %s record %d: %w", path, len(out)+1, err)
		}
		out = append(out, v)
	}
}

// writeLines replaces path atomically with one JSON value per line.
func writeLines[T any](path string, items []T) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("store: encode %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store: replace %s: %w", path, err)
	}
	return nil
}
