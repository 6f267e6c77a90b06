package adapters

import (
	"context"

	"ipx/internal/registration/ports"
	"ipx/internal/verification/providers"
	verification "ipx/internal/verification/service"
)

// VerificationAdapter is an in-process adapter that implements
// ports.VerificationPort by calling the verification router directly.
type VerificationAdapter struct {
	router *verification.Service
}

func NewVerificationAdapter(router *verification.Service) ports.VerificationPort {
	return &VerificationAdapter{router: router}
}

func (a *VerificationAdapter) Verify(ctx context.Context, req ports.VerificationRequest) (*ports.VerificationResult, error) {
	out, err := a.router.Verify(ctx, verification.Request{
		AssetType: req.AssetType,
		Reference: req.Reference,
		Principal: req.Principal,
	})
	if err != nil {
		return nil, err
	}
	return &ports.VerificationResult{
		Verdict:     verdictFrom(out.Status),
		Reason:      out.Reason,
		Title:       out.Title,
		Description: out.Description,
	}, nil
}

// Invalidate drops any cached result for the request's asset.
func (a *VerificationAdapter) Invalidate(req ports.VerificationRequest) {
	a.router.InvalidateAsset(req.AssetType, req.Principal, req.Reference)
}

func verdictFrom(s providers.Status) ports.VerificationVerdict {
	switch s {
	case providers.StatusVerified:
		return ports.VerdictVerified
	case providers.StatusAlreadyRegistered:
		return ports.VerdictAlreadyRegistered
	default:
		return ports.VerdictFailed
	}
}
