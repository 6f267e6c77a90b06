package ports

import (
	"context"
	"io"
	"time"
)

// ProofStore keeps uploaded manual proofs. Proofs are content addressed and
// may be shared by registrations, so the workflow never deletes them.
type ProofStore interface {
	Store(ctx context.Context, upload ProofUpload) (*StoredProof, error)
}

type ProofUpload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type StoredProof struct {
	Ref         string
	FileName    string
	ContentType string
	Size        int64
	StoredAt    time.Time
}
