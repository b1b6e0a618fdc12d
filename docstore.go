package iudex

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrDocumentNotFound is returned when a document URI resolves to nothing.
var ErrDocumentNotFound = errors.New("document not found")

// DocumentStore holds document snapshots addressed by content hash. Deleting
// a snapshot invalidates any checkpoint that references it.
type DocumentStore interface {
	// Put stores content and returns its URI
	Put(ctx context.Context, content string) (string, error)

	// Get retrieves content by URI
	Get(ctx context.Context, uri string) (string, error)

	// Delete removes a snapshot. Deleting an unknown URI is not an error.
	Delete(ctx context.Context, uri string) error

	// Exists reports whether the URI still resolves
	Exists(ctx context.Context, uri string) (bool, error)
}

const documentURIScheme = "sha256:"

// FileDocumentStore is a content-addressed DocumentStore backed by a
// directory. Identical content stores once; URIs are "sha256:<hex>".
type FileDocumentStore struct {
	dataDir string
}

func NewFileDocumentStore(dataDir string) (*FileDocumentStore, error) {
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".iudex", "documents")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	return &FileDocumentStore{dataDir: dataDir}, nil
}

func (s *FileDocumentStore) documentPath(uri string) (string, error) {
	digest, ok := strings.CutPrefix(uri, documentURIScheme)
	if !ok || digest == "" {
		return "", fmt.Errorf("invalid document URI: %q", uri)
	}
	return filepath.Join(s.dataDir, digest+".md"), nil
}

func (s *FileDocumentStore) Put(ctx context.Context, content string) (string, error) {
	sum := sha256.Sum256([]byte(content))
	uri := documentURIScheme + hex.EncodeToString(sum[:])
	path, err := s.documentPath(uri)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return uri, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return uri, nil
}

func (s *FileDocumentStore) Get(ctx context.Context, uri string) (string, error) {
	path, err := s.documentPath(uri)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrDocumentNotFound
		}
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

func (s *FileDocumentStore) Delete(ctx context.Context, uri string) error {
	path, err := s.documentPath(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *FileDocumentStore) Exists(ctx context.Context, uri string) (bool, error) {
	path, err := s.documentPath(uri)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MemoryDocumentStore keeps documents in memory, for tests and dry runs.
type MemoryDocumentStore struct {
	mutex     sync.RWMutex
	documents map[string]string
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{documents: map[string]string{}}
}

func (s *MemoryDocumentStore) Put(ctx context.Context, content string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	sum := sha256.Sum256([]byte(content))
	uri := documentURIScheme + hex.EncodeToString(sum[:])
	s.documents[uri] = content
	return uri, nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, uri string) (string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	content, ok := s.documents[uri]
	if !ok {
		return "", ErrDocumentNotFound
	}
	return content, nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, uri string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.documents, uri)
	return nil
}

func (s *MemoryDocumentStore) Exists(ctx context.Context, uri string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, ok := s.documents[uri]
	return ok, nil
}
