// Package blobstore archives claim documents. S3Store writes to an S3
// bucket; InMemoryStore backs tests and local development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrMissingFileName = errors.New("file name is required")
	ErrEmptyContent    = errors.New("content is empty")
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store is implemented by S3Store and InMemoryStore.
type Store interface {
	Put(ctx context.Context, key, contentType string, content []byte) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
}

// DocumentKey builds claims/{claim_number}/{document_type}/{file_name},
// stripping any directory components from the supplied file name.
func DocumentKey(claimNumber, documentType, fileName string) (string, error) {
	base := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	if base == "" || base == "." || base == "/" {
		return "", ErrMissingFileName
	}
	return fmt.Sprintf("claims/%s/%s/%s", claimNumber, documentType, base), nil
}

func describe(key, contentType string, content []byte, now time.Time) (*Object, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	sum := sha256.Sum256(content)
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(content)),
		SHA256:      hex.EncodeToString(sum[:]),
		StoredAt:    now.UTC(),
	}, nil
}

type storedBlob struct {
	object  Object
	content []byte
}

// InMemoryStore is a thread-safe in-process Store.
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]storedBlob
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{blobs: make(map[string]storedBlob)}
}

func (s *InMemoryStore) Put(_ context.Context, key, contentType string, content []byte) (*Object, error) {
	obj, err := describe(key, contentType, content, time.Now())
	if err != nil {
		return nil, err
	}

	data := make([]byte, len(content))
	copy(data, content)

	s.mu.Lock()
	s.blobs[key] = storedBlob{object: *obj, content: data}
	s.mu.Unlock()

	return obj, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := b.object
	return io.NopCloser(bytes.NewReader(b.content)), &obj, nil
}

// Len reports the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
