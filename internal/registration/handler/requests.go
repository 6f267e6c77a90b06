package handler

import (
	"strings"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
	dErrors "ipx/pkg/domain-errors"
)

// UpdateFormRequest is the HTTP request body for PATCH /registrations/{id}.
// Absent fields are left untouched.
type UpdateFormRequest struct {
	AssetType           *string `json:"asset_type"`
	AssetReference      *string `json:"asset_reference"`
	Title               *string `json:"title"`
	Description         *string `json:"description"`
	RevenueConnected    *bool   `json:"revenue_connected"`
	RevenueSharePercent *int    `json:"revenue_share_percent"`
	BondTermMonths      *int    `json:"bond_term_months"`
	PayoutStyle         *string `json:"payout_style"`
	TermsAccepted       *bool   `json:"terms_accepted"`
}

// Normalize trims identifiers. Free text is kept as entered.
func (r *UpdateFormRequest) Normalize() {
	if r.AssetType != nil {
		v := strings.ToLower(strings.TrimSpace(*r.AssetType))
		r.AssetType = &v
	}
	if r.AssetReference != nil {
		v := strings.TrimSpace(*r.AssetReference)
		r.AssetReference = &v
	}
	if r.PayoutStyle != nil {
		v := strings.ToLower(strings.TrimSpace(*r.PayoutStyle))
		r.PayoutStyle = &v
	}
}

// Validate checks the request shape. Field rules live on models.FormPatch.
func (r *UpdateFormRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ToPatch().IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be provided")
	}
	return r.ToPatch().Validate()
}

// ToPatch converts the request into a domain patch.
func (r *UpdateFormRequest) ToPatch() models.FormPatch {
	patch := models.FormPatch{
		AssetReference:      r.AssetReference,
		Title:               r.Title,
		Description:         r.Description,
		RevenueConnected:    r.RevenueConnected,
		RevenueSharePercent: r.RevenueSharePercent,
		BondTermMonths:      r.BondTermMonths,
		TermsAccepted:       r.TermsAccepted,
	}
	if r.AssetType != nil {
		t := catalog.AssetTypeID(*r.AssetType)
		patch.AssetType = &t
	}
	if r.PayoutStyle != nil {
		p := models.PayoutStyle(*r.PayoutStyle)
		patch.PayoutStyle = &p
	}
	return patch
}
