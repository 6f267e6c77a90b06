// Package ledger talks to the asset registry that mints revenue-share
// instruments. Two implementations exist: an HTTP client for the real ledger
// service and an in-memory ledger used in development and tests.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
	"ipx/pkg/platform/sentinel"
)

// VerificationMode records how ownership was established before minting.
type VerificationMode string

const (
	ModeAutomated VerificationMode = "automated"
	ModeManual    VerificationMode = "manual_proof"
)

// MintRequest is the frozen registration snapshot the ledger mints from.
type MintRequest struct {
	Owner               id.PrincipalID      `json:"owner"`
	AssetType           catalog.AssetTypeID `json:"asset_type"`
	RoutingKey          catalog.RoutingKey  `json:"routing_key"`
	Reference           string              `json:"asset_reference"`
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	RevenueConnected    bool                `json:"revenue_connected"`
	RevenueSharePercent int                 `json:"revenue_share_percent"`
	BondTermMonths      int                 `json:"bond_term_months"`
	PayoutStyle         string              `json:"payout_style"`
	VerificationMode    VerificationMode    `json:"verification_mode"`
	ManualProofRef      string              `json:"manual_proof_ref,omitempty"`
	Fee                 string              `json:"fee"`
	TermStart           time.Time           `json:"term_start"`
	TermEnd             time.Time           `json:"term_end"`
	// IdempotencyKey lets a retried mint of the same attempt be recognized.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate enforces what the ledger itself requires of a mint.
func (r MintRequest) Validate() error {
	switch {
	case r.Owner.IsNil():
		return errors.New("owner is required")
	case r.RoutingKey == "":
		return errors.New("routing key is required")
	case strings.TrimSpace(r.Reference) == "":
		return errors.New("asset reference is required")
	case r.RevenueSharePercent < 1 || r.RevenueSharePercent > 100:
		return fmt.Errorf("revenue share %d%% outside 1-100", r.RevenueSharePercent)
	case r.BondTermMonths <= 0:
		return errors.New("bond term is required")
	case !r.TermEnd.After(r.TermStart):
		return errors.New("term end must be after term start")
	}
	return nil
}

// Receipt confirms a mint.
type Receipt struct {
	InstrumentID id.InstrumentID `json:"instrument_id"`
	MintedAt     time.Time       `json:"minted_at"`
}

// Ledger mints instruments and answers whether an asset is already registered.
type Ledger interface {
	Mint(ctx context.Context, req MintRequest) (*Receipt, error)
	IsRegistered(ctx context.Context, routingKey catalog.RoutingKey, reference string) (bool, error)
}

var (
	// ErrAlreadyMinted reports a second mint for an asset already on the ledger.
	ErrAlreadyMinted = fmt.Errorf("asset already minted: %w", sentinel.ErrConflict)
	// ErrRejected reports a mint the ledger refused as invalid.
	ErrRejected = errors.New("mint rejected")
	// ErrUnavailable reports a ledger that could not be reached or is failing fast.
	ErrUnavailable = fmt.Errorf("ledger unavailable: %w", sentinel.ErrUnavailable)
)

// ReferenceKey normalizes an asset reference for the registered-asset index.
func ReferenceKey(routingKey catalog.RoutingKey, reference string) string {
	return string(routingKey) + "|" + strings.ToLower(strings.TrimSpace(reference))
}
