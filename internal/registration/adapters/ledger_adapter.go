package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/multiformats/go-multihash"

	"ipx/internal/ledger"
	"ipx/internal/registration/ports"
)

// LedgerAdapter implements ports.LedgerPort over a ledger client. The
// idempotency key ties a mint to one registration, verification attempt and
// snapshot: a retry with the same terms replays the receipt, while a retry
// after the terms were edited is a new mint the ledger rejects as a duplicate.
type LedgerAdapter struct {
	ledger ledger.Ledger
}

func NewLedgerAdapter(l ledger.Ledger) ports.LedgerPort {
	return &LedgerAdapter{ledger: l}
}

func (a *LedgerAdapter) Mint(ctx context.Context, req ports.MintRequest) (*ports.MintReceipt, error) {
	mode := ledger.ModeAutomated
	if req.ManualOverride {
		mode = ledger.ModeManual
	}
	mint := ledger.MintRequest{
		Owner:               req.Owner,
		AssetType:           req.AssetType,
		RoutingKey:          req.RoutingKey,
		Reference:           req.Reference,
		Title:               req.Title,
		Description:         req.Description,
		RevenueConnected:    req.RevenueConnected,
		RevenueSharePercent: req.RevenueSharePercent,
		BondTermMonths:      req.BondTermMonths,
		PayoutStyle:         req.PayoutStyle,
		VerificationMode:    mode,
		ManualProofRef:      req.ManualProofRef,
		Fee:                 req.Fee,
		TermStart:           req.TermStart,
		TermEnd:             req.TermEnd,
	}
	key, err := idempotencyKey(req, mint)
	if err != nil {
		return nil, err
	}
	mint.IdempotencyKey = key

	receipt, err := a.ledger.Mint(ctx, mint)
	if err != nil {
		return nil, err
	}
	return &ports.MintReceipt{InstrumentID: receipt.InstrumentID, MintedAt: receipt.MintedAt}, nil
}

// idempotencyKey is "<registration>:<attempt>:<snapshot hash>". The term
// window is left out of the hash because it moves with the submission date.
func idempotencyKey(req ports.MintRequest, mint ledger.MintRequest) (string, error) {
	mint.TermStart, mint.TermEnd = time.Time{}, time.Time{}
	mint.IdempotencyKey = ""
	data, err := json.Marshal(mint)
	if err != nil {
		return "", fmt.Errorf("encode mint snapshot: %w", err)
	}
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash mint snapshot: %w", err)
	}
	return fmt.Sprintf("%s:%d:%s", req.RegistrationID, req.Attempt, sum.B58String()), nil
}
