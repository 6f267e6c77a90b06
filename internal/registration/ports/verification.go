package ports

import (
	"context"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
)

// VerificationPort checks ownership of an asset reference. It classifies
// every backend failure into a result; an error means the request could not
// be routed at all.
type VerificationPort interface {
	Verify(ctx context.Context, req VerificationRequest) (*VerificationResult, error)
}

type VerificationRequest struct {
	AssetType catalog.AssetTypeID
	Reference string
	Principal id.PrincipalID
}

// VerificationVerdict is the port-level classification.
type VerificationVerdict string

const (
	VerdictVerified          VerificationVerdict = "verified"
	VerdictFailed            VerificationVerdict = "failed"
	VerdictAlreadyRegistered VerificationVerdict = "already_registered"
)

// VerificationResult is the verdict plus, when verified, the asset metadata
// the backend supplied.
type VerificationResult struct {
	Verdict     VerificationVerdict
	Reason      string
	Title       string
	Description string
}

// VerificationInvalidator is implemented by verifiers that cache results.
type VerificationInvalidator interface {
	Invalidate(req VerificationRequest)
}
