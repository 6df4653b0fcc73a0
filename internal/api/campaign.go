package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/lifecycle"
	"github.com/patrickwarner/adselect/internal/middleware"
	"github.com/patrickwarner/adselect/internal/models"
)

type deactivateRequest struct {
	Reason string `json:"reason"`
}

type deactivateResponse struct {
	ID     string           `json:"id"`
	Report lifecycle.Report `json:"report"`
	Error  string           `json:"error,omitempty"`
}

// DeactivateCampaignHandler handles POST /campaigns/{campaign_id}/deactivate.
// The body is optional and may carry a reason for the logs.
func (s *Server) DeactivateCampaignHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "DeactivateCampaignHandler")
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "deactivate_campaign"
	const method = "POST"

	id, err := models.ParseCampaignID(mux.Vars(r)["campaign_id"])
	if err != nil {
		s.record(endpoint, method, http.StatusBadRequest, start)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var body deactivateRequest
	if data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &body); err != nil {
			s.record(endpoint, method, http.StatusBadRequest, start)
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if s.Lifecycle == nil {
		s.record(endpoint, method, http.StatusServiceUnavailable, start)
		writeError(w, r, http.StatusServiceUnavailable, "campaign lifecycle unavailable")
		return
	}

	logger.Info("deactivating campaign", zap.String("campaign_id", id.String()), zap.String("reason", body.Reason))
	report, err := s.Lifecycle.DeactivateCampaign(ctx, id)
	resp := deactivateResponse{ID: middleware.RequestIDFromContext(ctx), Report: report}
	status := http.StatusOK
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotConverged):
			status = http.StatusAccepted
			resp.Error = err.Error()
		default:
			status = statusFor(err)
			resp.Error = publicMessage(status, err)
		}
		logger.Error("campaign deactivation", zap.Error(err), zap.String("campaign_id", id.String()), zap.Int("status", status))
	}
	s.record(endpoint, method, status, start)
	writeJSON(w, status, resp)
}
