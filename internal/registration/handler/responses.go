package handler

import (
	"time"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
	"ipx/internal/registration/service"
)

// RegistrationResponse is the HTTP representation of a registration view.
type RegistrationResponse struct {
	ID           string               `json:"id"`
	Form         FormResponse         `json:"form"`
	Verification VerificationResponse `json:"verification"`
	Fee          string               `json:"estimated_fee"`
	TermStart    string               `json:"term_start"`
	TermEnd      string               `json:"term_end"`
	CanSubmit    bool                 `json:"can_submit"`
	BlockReason  string               `json:"block_reason,omitempty"`
	Submitting   bool                 `json:"submitting"`
	Submission   *SubmissionResponse  `json:"submission,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type FormResponse struct {
	AssetType           string               `json:"asset_type,omitempty"`
	AssetReference      string               `json:"asset_reference,omitempty"`
	Title               string               `json:"title"`
	Description         string               `json:"description"`
	RevenueConnected    bool                 `json:"revenue_connected"`
	RevenueSharePercent int                  `json:"revenue_share_percent"`
	BondTermMonths      int                  `json:"bond_term_months"`
	PayoutStyle         string               `json:"payout_style"`
	ManualProof         *ManualProofResponse `json:"manual_proof,omitempty"`
	TermsAccepted       bool                 `json:"terms_accepted"`
}

type ManualProofResponse struct {
	Ref         string    `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type VerificationResponse struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Attempt uint64 `json:"attempt,omitempty"`
}

type SubmissionResponse struct {
	InstrumentID string    `json:"instrument_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// AssetTypesResponse is the HTTP response for GET /asset-types.
type AssetTypesResponse struct {
	AssetTypes []catalog.Descriptor `json:"asset_types"`
}

const dateLayout = "2006-01-02"

// FromView converts a service view to an HTTP response.
func FromView(v *service.View) *RegistrationResponse {
	reg := v.Registration
	resp := &RegistrationResponse{
		ID:   reg.ID.String(),
		Form: fromForm(reg.Form),
		Verification: VerificationResponse{
			State:   string(reg.Verification.Kind()),
			Reason:  reg.Verification.Reason(),
			Attempt: reg.Verification.Attempt(),
		},
		Fee:         v.Fee,
		TermStart:   v.TermWindow.Start.Format(dateLayout),
		TermEnd:     v.TermWindow.End.Format(dateLayout),
		CanSubmit:   v.Readiness.Allowed,
		BlockReason: v.Readiness.Reason,
		Submitting:  v.Submitting,
		CreatedAt:   reg.CreatedAt,
		UpdatedAt:   reg.UpdatedAt,
	}
	if reg.Submission != nil {
		resp.Submission = FromSubmission(reg.Submission)
	}
	return resp
}

// FromSubmission converts a recorded submission to an HTTP response.
func FromSubmission(sub *models.Submission) *SubmissionResponse {
	return &SubmissionResponse{
		InstrumentID: sub.InstrumentID.String(),
		SubmittedAt:  sub.SubmittedAt,
	}
}

func fromForm(f models.Form) FormResponse {
	out := FormResponse{
		AssetType:           string(f.AssetType),
		AssetReference:      f.AssetReference,
		Title:               f.Title,
		Description:         f.Description,
		RevenueConnected:    f.RevenueConnected,
		RevenueSharePercent: f.RevenueSharePercent,
		BondTermMonths:      f.BondTermMonths,
		PayoutStyle:         f.PayoutStyle.String(),
		TermsAccepted:       f.TermsAccepted,
	}
	if f.ManualProof != nil {
		out.ManualProof = &ManualProofResponse{
			Ref:         f.ManualProof.Ref,
			FileName:    f.ManualProof.FileName,
			ContentType: f.ManualProof.ContentType,
			Size:        f.ManualProof.Size,
			UploadedAt:  f.ManualProof.UploadedAt,
		}
	}
	return out
}
