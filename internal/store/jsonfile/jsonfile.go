// Package jsonfile keeps the bot state in a single JSON document.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/reforge/internal/store"
)

type File struct {
	path string
	mu   sync.Mutex
}

func New(path string) (*File, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty state file path")
	}
	return &File{path: p}, nil
}

func (f *File) Path() string { return f.path }

// EnsureSchema creates the parent directory.
func (f *File) EnsureSchema(context.Context) error {
	dir := filepath.Dir(f.path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the document. Ids stored as JSON numbers are accepted too.
func (f *File) Load(context.Context) (store.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return store.State{}, nil
	}
	if err != nil {
		return store.State{}, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return store.State{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	raw := map[string]any{}
	if err := dec.Decode(&raw); err != nil {
		return store.State{}, fmt.Errorf("decode %s: %w", f.path, err)
	}
	pairs := make(map[string]string, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case nil:
		case string:
			pairs[k] = x
		case json.Number:
			pairs[k] = x.String()
		default:
			pairs[k] = fmt.Sprint(x)
		}
	}
	return store.FromPairs(pairs)
}

// Save replaces the document through a temp file and rename.
func (f *File) Save(_ context.Context, s store.State) error {
	b, err := json.MarshalIndent(s.Pairs(), "", "  ")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(name, f.path)
}

func (f *File) Close() error { return nil }

var _ store.Store = (*File)(nil)
