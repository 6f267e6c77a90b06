package ports

import (
	"context"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
)

// LedgerPort mints a revenue-share instrument from a frozen registration.
type LedgerPort interface {
	Mint(ctx context.Context, req MintRequest) (*MintReceipt, error)
}

// MintRequest is the snapshot handed to the ledger.
type MintRequest struct {
	RegistrationID      id.RegistrationID
	Attempt             uint64
	Owner               id.PrincipalID
	AssetType           catalog.AssetTypeID
	RoutingKey          catalog.RoutingKey
	Reference           string
	Title               string
	Description         string
	RevenueConnected    bool
	RevenueSharePercent int
	BondTermMonths      int
	PayoutStyle         string
	ManualOverride      bool
	ManualProofRef      string
	Fee                 string
	TermStart           time.Time
	TermEnd             time.Time
}

type MintReceipt struct {
	InstrumentID id.InstrumentID
	MintedAt     time.Time
}
