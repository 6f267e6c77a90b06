// Package proofs stores manual ownership proofs. Uploads are addressed by a
// CIDv1 (raw codec, sha2-256) of their bytes, so identical files share a
// reference. Content is never inspected beyond the declared media type.
package proofs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"ipx/pkg/platform/sentinel"
)

// DefaultMaxSize caps an upload at 10 MiB.
const DefaultMaxSize int64 = 10 << 20

var (
	ErrUnsupportedType = errors.New("proof must be an image or a PDF")
	ErrTooLarge        = errors.New("proof exceeds the size limit")
	ErrEmpty           = errors.New("proof is empty")
	ErrNotFound        = fmt.Errorf("proof not found: %w", sentinel.ErrNotFound)
)

// Upload is an incoming proof file.
type Upload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

// Object describes a stored proof.
type Object struct {
	Ref         string    `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store persists proof bytes.
type Store interface {
	Put(ctx context.Context, u Upload) (Object, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, Object, error)
	Delete(ctx context.Context, ref string) error
}

// NormalizeContentType accepts image/* and application/pdf and returns the
// bare media type.
func NormalizeContentType(ct string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", ErrUnsupportedType
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "application/pdf" || strings.HasPrefix(mediaType, "image/") {
		return mediaType, nil
	}
	return "", ErrUnsupportedType
}

// ContentRef computes the CIDv1 reference for data.
func ContentRef(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash proof: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// ParseRef validates a reference produced by ContentRef.
func ParseRef(ref string) (cid.Cid, error) {
	c, err := cid.Decode(ref)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if c.Version() != 1 || c.Type() != cid.Raw {
		return cid.Undef, ErrNotFound
	}
	return c, nil
}

// readUpload validates the declared type and reads at most maxSize bytes.
func readUpload(u Upload, maxSize int64) ([]byte, string, error) {
	ct, err := NormalizeContentType(u.ContentType)
	if err != nil {
		return nil, "", err
	}
	if u.Body == nil {
		return nil, "", ErrEmpty
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(u.Body, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read proof: %w", err)
	}
	if n == 0 {
		return nil, "", ErrEmpty
	}
	if n > maxSize {
		return nil, "", ErrTooLarge
	}
	return buf.Bytes(), ct, nil
}

// cleanFileName keeps only the base name of a client-supplied file name.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
