package proofs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FSStore writes each proof to <dir>/<ref> with a <ref>.json sidecar holding
// its metadata. References are validated CIDs, so they are safe file names.
type FSStore struct {
	dir     string
	maxSize int64
	now     func() time.Time
}

func NewFSStore(dir string, maxSize int64) (*FSStore, error) {
	if dir == "" {
		return nil, errors.New("proof directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create proof directory: %w", err)
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &FSStore{dir: filepath.Clean(dir), maxSize: maxSize, now: time.Now}, nil
}

func (s *FSStore) paths(ref string) (string, string, error) {
	if _, err := ParseRef(ref); err != nil {
		return "", "", err
	}
	data := filepath.Join(s.dir, ref)
	return data, data + ".json", nil
}

func (s *FSStore) Put(_ context.Context, u Upload) (Object, error) {
	data, ct, err := readUpload(u, s.maxSize)
	if err != nil {
		return Object{}, err
	}
	ref, err := ContentRef(data)
	if err != nil {
		return Object{}, err
	}
	dataPath, metaPath, err := s.paths(ref)
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
	meta, err := json.Marshal(obj)
	if err != nil {
		return Object{}, fmt.Errorf("encode proof metadata: %w", err)
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return Object{}, err
	}
	if err := writeAtomic(metaPath, meta); err != nil {
		return Object{}, err
	}
	return obj, nil
}

func (s *FSStore) Open(_ context.Context, ref string) (io.ReadCloser, Object, error) {
	dataPath, metaPath, err := s.paths(ref)
	if err != nil {
		return nil, Object{}, err
	}
	raw, err := os.ReadFile(metaPath) // #nosec G304 -- ref is a validated CID
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("read proof metadata: %w", err)
	}
	var obj Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, Object{}, fmt.Errorf("decode proof metadata: %w", err)
	}
	f, err := os.Open(dataPath) // #nosec G304 -- ref is a validated CID
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, ErrNotFound
	}
	if err != nil {
		return nil, Object{}, fmt.Errorf("open proof: %w", err)
	}
	return f, obj, nil
}

func (s *FSStore) Delete(_ context.Context, ref string) error {
	dataPath, metaPath, err := s.paths(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("remove proof: %w", err)
	}
	_ = os.Remove(metaPath)
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".proof-*")
	if err != nil {
		return fmt.Errorf("create temp proof: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write proof: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close proof: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit proof: %w", err)
	}
	return nil
}
