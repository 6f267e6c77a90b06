package models

import (
	"slices"
	"time"

	"ipx/internal/catalog"
)

// PayoutStyle is the schedule on which revenue is streamed to holders.
type PayoutStyle string

const (
	PayoutLinear      PayoutStyle = "linear"
	PayoutPerformance PayoutStyle = "performance"
	PayoutCliff       PayoutStyle = "cliff"
)

func (p PayoutStyle) IsValid() bool {
	switch p {
	case PayoutLinear, PayoutPerformance, PayoutCliff:
		return true
	}
	return false
}

func (p PayoutStyle) String() string { return string(p) }

const (
	MinRevenueShare     = 5
	MaxRevenueShare     = 90
	DefaultRevenueShare = 20

	DefaultBondTermMonths = 12

	MaxTitleLength       = 200
	MaxDescriptionLength = 5000
	MaxReferenceLength   = 2048
)

var bondTerms = []int{3, 6, 12, 18, 24}

// BondTerms returns the permitted bond terms in months, ascending.
func BondTerms() []int { return slices.Clone(bondTerms) }

func IsValidBondTerm(months int) bool { return slices.Contains(bondTerms, months) }

// ClampRevenueShare forces a percentage into [MinRevenueShare, MaxRevenueShare].
func ClampRevenueShare(pct int) int {
	return min(max(pct, MinRevenueShare), MaxRevenueShare)
}

// ProofRef points at an uploaded manual proof held by the proof store.
type ProofRef struct {
	Ref         string    `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Form is the user-entered and derived data of one registration.
//
// Invariants:
//   - AssetReference is only set while AssetType is set
//   - RevenueSharePercent is within [MinRevenueShare, MaxRevenueShare]
//   - BondTermMonths is one of BondTerms()
//   - PayoutStyle is valid
//
// Mutation goes through Registration so verification resets stay coupled to
// asset changes.
type Form struct {
	AssetType           catalog.AssetTypeID `json:"asset_type,omitempty"`
	AssetReference      string              `json:"asset_reference,omitempty"`
	Title               string              `json:"title"`
	Description         string              `json:"description"`
	RevenueConnected    bool                `json:"revenue_connected"`
	RevenueSharePercent int                 `json:"revenue_share_percent"`
	BondTermMonths      int                 `json:"bond_term_months"`
	PayoutStyle         PayoutStyle         `json:"payout_style"`
	ManualProof         *ProofRef           `json:"manual_proof,omitempty"`
	TermsAccepted       bool                `json:"terms_accepted"`
}

// NewForm returns an empty form carrying the defaults.
func NewForm() Form {
	return Form{
		RevenueSharePercent: DefaultRevenueShare,
		BondTermMonths:      DefaultBondTermMonths,
		PayoutStyle:         PayoutLinear,
	}
}

func (f Form) HasAssetType() bool { return f.AssetType != "" }
func (f Form) HasReference() bool { return f.AssetReference != "" }
func (f Form) HasManualProof() bool {
	return f.ManualProof != nil
}
