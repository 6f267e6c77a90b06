package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ipx/internal/catalog"
	"ipx/internal/registration/models"
	"ipx/internal/registration/ports"
	"ipx/internal/registration/service"
	id "ipx/pkg/domain"
	dErrors "ipx/pkg/domain-errors"
	"ipx/pkg/platform/httputil"
	"ipx/pkg/requestcontext"
)

const defaultMaxProofSize = 10 << 20

// Service defines the registration operations exposed over HTTP.
type Service interface {
	Start(ctx context.Context, principal id.PrincipalID) (*service.View, error)
	Get(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*service.View, error)
	UpdateForm(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, patch models.FormPatch) (*service.View, error)
	Discard(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) error
	BeginVerification(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*service.View, error)
	AttachManualProof(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID, upload ports.ProofUpload) (*service.View, error)
	Submit(ctx context.Context, principal id.PrincipalID, regID id.RegistrationID) (*models.Submission, error)
	Catalog() *catalog.Catalog
}

// Handler wires registration endpoints to the registration service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	maxProofSize int64
}

type Option func(*Handler)

// WithMaxProofSize caps manual proof uploads in bytes.
func WithMaxProofSize(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxProofSize = n
		}
	}
}

// New constructs a registration handler with its dependencies.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		logger:       logger,
		maxProofSize: defaultMaxProofSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts registration endpoints on the router. Callers install the
// auth middleware; every route requires a principal.
func (h *Handler) Register(r chi.Router) {
	r.Get("/asset-types", h.HandleListAssetTypes)
	r.Route("/registrations", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleUpdateForm)
			r.Delete("/", h.HandleDiscard)
			r.Post("/verification", h.HandleBeginVerification)
			r.Post("/manual-proof", h.HandleAttachManualProof)
			r.Post("/submit", h.HandleSubmit)
		})
	})
}

// HandleListAssetTypes handles GET /asset-types.
func (h *Handler) HandleListAssetTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, AssetTypesResponse{AssetTypes: h.service.Catalog().List()})
}

// HandleStart handles POST /registrations.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return
	}

	view, err := h.service.Start(ctx, principal)
	if err != nil {
		h.fail(ctx, w, "failed to start registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromView(view))
}

// HandleGet handles GET /registrations/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}

	view, err := h.service.Get(ctx, principal, regID)
	if err != nil {
		h.fail(ctx, w, "failed to get registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleUpdateForm handles PATCH /registrations/{id}.
func (h *Handler) HandleUpdateForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[UpdateFormRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	view, err := h.service.UpdateForm(ctx, principal, regID, req.ToPatch())
	if err != nil {
		h.fail(ctx, w, "failed to update registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleDiscard handles DELETE /registrations/{id}.
func (h *Handler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.service.Discard(ctx, principal, regID); err != nil {
		h.fail(ctx, w, "failed to discard registration", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleBeginVerification handles POST /registrations/{id}/verification. The
// attempt runs in the background; clients poll the registration for its result.
func (h *Handler) HandleBeginVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}

	view, err := h.service.BeginVerification(ctx, principal, regID)
	if err != nil {
		h.fail(ctx, w, "failed to begin verification", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, FromView(view))
}

// HandleAttachManualProof handles POST /registrations/{id}/manual-proof with a
// multipart "file" part.
func (h *Handler) HandleAttachManualProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}

	// Multipart framing adds a little on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxProofSize+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "proof file is too large"))
			return
		}
		h.logger.WarnContext(ctx, "invalid manual proof upload",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	view, err := h.service.AttachManualProof(ctx, principal, regID, ports.ProofUpload{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		h.fail(ctx, w, "failed to attach manual proof", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromView(view))
}

// HandleSubmit handles POST /registrations/{id}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, regID, ok := h.target(w, r)
	if !ok {
		return
	}

	sub, err := h.service.Submit(ctx, principal, regID)
	if err != nil {
		h.fail(ctx, w, "failed to submit registration", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSubmission(sub))
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (id.PrincipalID, bool) {
	principal := requestcontext.Principal(r.Context())
	if principal.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return "", false
	}
	return principal, true
}

// target resolves the caller and the registration id from the path.
func (h *Handler) target(w http.ResponseWriter, r *http.Request) (id.PrincipalID, id.RegistrationID, bool) {
	principal, ok := h.requirePrincipal(w, r)
	if !ok {
		return "", id.RegistrationID{}, false
	}
	regID, err := id.ParseRegistrationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", id.RegistrationID{}, false
	}
	return principal, regID, true
}

// fail logs by severity and writes the mapped error response.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}
