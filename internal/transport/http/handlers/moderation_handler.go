package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mythcraft/api/internal/domain/enums"
	"github.com/mythcraft/api/internal/domain/model"
	authsvc "github.com/mythcraft/api/internal/services/auth"
	modsvc "github.com/mythcraft/api/internal/services/moderation"
	"github.com/mythcraft/api/internal/transport/http/dto"
	httperrors "github.com/mythcraft/api/internal/transport/http/errors"
)

type ModerationService interface {
	Moderate(ctx context.Context, req model.ModerationRequest) (model.ModerationOutcome, error)
	Validate(req model.ModerationRequest) (model.ModerationRequest, error)
	ClassifyBatch(ctx context.Context, texts []string) ([]model.ModerationOutcome, error)
	ListFlags(ctx context.Context, contentType, contentID string, limit int) ([]model.ModerationFlag, error)
}

// CheckQueue hands a request to the asynchronous moderation worker.
type CheckQueue interface {
	PublishCheck(req model.ModerationRequest) error
}

type EvidenceLinker interface {
	Link(ctx context.Context, flag model.ModerationFlag) (string, error)
}

type ModerationHandlerConfig struct {
	// RequireIdentity rejects requests without a verified identity in context.
	RequireIdentity bool
	TrustedRoles    []string
}

type ModerationHandler struct {
	service  ModerationService
	queue    CheckQueue
	evidence EvidenceLinker
	cfg      ModerationHandlerConfig
	logger   *zap.Logger
}

func NewModerationHandler(service ModerationService, cfg ModerationHandlerConfig, logger *zap.Logger) *ModerationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModerationHandler{service: service, cfg: cfg, logger: logger}
}

func (h *ModerationHandler) AttachQueue(queue CheckQueue) {
	h.queue = queue
}

func (h *ModerationHandler) AttachEvidence(evidence EvidenceLinker) {
	h.evidence = evidence
}

func (h *ModerationHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "moderation service is unavailable")
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	outcome, err := h.service.Moderate(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	httperrors.Write(w, http.StatusOK, toModerateResponse(outcome))
}

// Enqueue validates the request and hands it to the worker; the decision is
// published on the result subject for the content id.
func (h *ModerationHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "moderation service is unavailable")
		return
	}
	if h.queue == nil {
		writeUnavailable(w, "moderation queue is unavailable")
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	req, err := h.service.Validate(req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if err := h.queue.PublishCheck(req); err != nil {
		h.logger.Error("enqueue moderation check failed", zap.String("content_id", req.ContentID), zap.Error(err))
		writeUnavailable(w, "moderation queue is unavailable")
		return
	}

	httperrors.Write(w, http.StatusAccepted, dto.QueuedResponse{Status: "queued", ContentID: req.ContentID})
}

func (h *ModerationHandler) Batch(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "moderation service is unavailable")
		return
	}
	if h.cfg.RequireIdentity {
		if _, ok := authsvc.IdentityFromContext(r.Context()); !ok {
			writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
			return
		}
	}

	var body dto.BatchModerateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeBadRequest(w, "Invalid request body", err.Error())
		return
	}

	outcomes, err := h.service.ClassifyBatch(r.Context(), body.Texts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := dto.BatchModerateResponse{Results: make([]dto.ModerateResponse, 0, len(outcomes))}
	for _, outcome := range outcomes {
		resp.Results = append(resp.Results, toModerateResponse(outcome))
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ModerationHandler) Flags(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "moderation service is unavailable")
		return
	}
	if h.cfg.RequireIdentity {
		identity, ok := authsvc.IdentityFromContext(r.Context())
		if !ok {
			writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
			return
		}
		if !authsvc.CanActFor(identity, "", h.cfg.TrustedRoles) {
			writeForbidden(w, "FORBIDDEN", "flag history is restricted to teachers")
			return
		}
	}

	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeBadRequest(w, "Invalid query", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	flags, err := h.service.ListFlags(r.Context(), query.Get("contentType"), query.Get("contentId"), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := dto.ModerationFlagsResponse{Flags: make([]dto.ModerationFlagItem, 0, len(flags))}
	for _, flag := range flags {
		item := dto.ModerationFlagItem{
			ID:                flag.ID.String(),
			ContentID:         flag.ContentID,
			ContentType:       string(flag.ContentType),
			FlaggedCategories: flag.FlaggedCategories,
			Scores:            flag.Scores,
			Severity:          string(flag.Severity),
			Action:            string(flag.Action),
			UserID:            flag.UserID,
			CreatedAt:         flag.CreatedAt,
		}
		if h.evidence != nil {
			if link, linkErr := h.evidence.Link(r.Context(), flag); linkErr == nil {
				item.EvidenceURL = &link
			} else {
				h.logger.Debug("evidence link unavailable", zap.String("flag_id", item.ID), zap.Error(linkErr))
			}
		}
		resp.Flags = append(resp.Flags, item)
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ModerationHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (model.ModerationRequest, bool) {
	var body dto.ModerateRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeBadRequest(w, "Invalid request body", err.Error())
		return model.ModerationRequest{}, false
	}

	req := model.ModerationRequest{
		Content:     body.Content,
		ContentType: enums.ContentType(body.ContentType),
		ContentID:   body.ContentID,
		UserID:      body.UserID,
	}

	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		if h.cfg.RequireIdentity {
			writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
			return model.ModerationRequest{}, false
		}
		return req, true
	}
	if strings.TrimSpace(req.UserID) != "" && !authsvc.CanActFor(identity, strings.TrimSpace(req.UserID), h.cfg.TrustedRoles) {
		writeForbidden(w, "FORBIDDEN", "userId does not match the authenticated user")
		return model.ModerationRequest{}, false
	}

	return req, true
}

func (h *ModerationHandler) writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *modsvc.ValidationError
	var rateErr *modsvc.RateLimitError

	switch {
	case errors.As(err, &validationErr):
		writeBadRequest(w, "Missing required fields", strings.Join(validationErr.Fields, ", "))
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.FormatInt(rateErr.RetryAfterSec, 10))
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
			Code:          "RATE_LIMITED",
			Message:       "too many moderation requests",
			RetryAfterSec: rateErr.RetryAfterSec,
		})
	case errors.Is(err, modsvc.ErrValidation):
		writeBadRequest(w, "Missing required fields", err.Error())
	default:
		h.logger.Error("moderation request failed", zap.Error(err))
		writeInternal(w, err.Error())
	}
}

func toModerateResponse(outcome model.ModerationOutcome) dto.ModerateResponse {
	categories := outcome.Categories
	if categories == nil {
		categories = []string{}
	}
	return dto.ModerateResponse{
		Flagged:    outcome.Flagged,
		Severity:   string(outcome.Severity),
		Categories: categories,
		Action:     string(outcome.Action),
	}
}
