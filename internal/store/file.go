package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// DefaultFilePath is used by the file driver when no path is configured.
const DefaultFilePath = "./data/data.json"

// FileStore keeps every chat in one JSON document keyed by chat ID and
// rewrites the whole file atomically on each mutation.
type FileStore struct {
	path string

	mu    sync.Mutex
	chats map[string]ChatData
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or lazily creates) the JSON file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultFilePath
	}
	s := &FileStore{path: path, chats: make(map[string]ChatData)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.chats); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return s, nil
}

func chatKey(chatID int64) string { return strconv.FormatInt(chatID, 10) }

// Load implements [Store].
func (s *FileStore) Load(_ context.Context, chatID int64) (ChatData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cd := s.chats[chatKey(chatID)]
	cd.History = append([]Turn(nil), cd.History...)
	return cd, nil
}

// AppendTurns implements [Store].
func (s *FileStore) AppendTurns(_ context.Context, chatID int64, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(chatID)
	cd := s.chats[key]
	cd.History = append(cd.History, turns...)
	s.chats[key] = cd
	return s.flush()
}

// SaveMemory implements [Store].
func (s *FileStore) SaveMemory(_ context.Context, chatID int64, buffer, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(chatID)
	cd := s.chats[key]
	cd.Buffer = buffer
	cd.Summary = summary
	s.chats[key] = cd
	return s.flush()
}

// Clear implements [Store].
func (s *FileStore) Clear(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chats, chatKey(chatID))
	return s.flush()
}

// Ping implements [Store]. It checks that the parent directory exists or can
// be created.
func (s *FileStore) Ping(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close implements [Store].
func (s *FileStore) Close() error { return nil }

// flush writes the document to a temp file and renames it over the target.
// Must be called with s.mu held.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.chats, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}
