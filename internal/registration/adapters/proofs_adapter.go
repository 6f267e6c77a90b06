package adapters

import (
	"context"
	"errors"

	"ipx/internal/proofs"
	"ipx/internal/registration/ports"
	dErrors "ipx/pkg/domain-errors"
)

// ProofsAdapter implements ports.ProofStore over a proofs.Store.
type ProofsAdapter struct {
	store proofs.Store
}

func NewProofsAdapter(s proofs.Store) ports.ProofStore {
	return &ProofsAdapter{store: s}
}

func (a *ProofsAdapter) Store(ctx context.Context, u ports.ProofUpload) (*ports.StoredProof, error) {
	obj, err := a.store.Put(ctx, proofs.Upload{
		FileName:    u.FileName,
		ContentType: u.ContentType,
		Body:        u.Body,
	})
	if err != nil {
		switch {
		case errors.Is(err, proofs.ErrUnsupportedType), errors.Is(err, proofs.ErrTooLarge), errors.Is(err, proofs.ErrEmpty):
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}
	return &ports.StoredProof{
		Ref:         obj.Ref,
		FileName:    obj.FileName,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		StoredAt:    obj.StoredAt,
	}, nil
}
