package proofs

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

type memoryObject struct {
	meta Object
	data []byte
}

// MemoryStore keeps proofs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	maxSize int64
	now     func() time.Time
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MemoryStore{objects: make(map[string]memoryObject), maxSize: maxSize, now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, u Upload) (Object, error) {
	data, ct, err := readUpload(u, s.maxSize)
	if err != nil {
		return Object{}, err
	}
	ref, err := ContentRef(data)
	if err != nil {
		return Object{}, err
	}
	obj := Object{
		Ref:         ref,
		FileName:    cleanFileName(u.FileName),
		ContentType: ct,
		Size:        int64(len(data)),
		StoredAt:    s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[ref] = memoryObject{meta: obj, data: data}
	return obj, nil
}

func (s *MemoryStore) Open(_ context.Context, ref string) (io.ReadCloser, Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[ref]
	if !ok {
		return nil, Object{}, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[ref]; !ok {
		return ErrNotFound
	}
	delete(s.objects, ref)
	return nil
}
