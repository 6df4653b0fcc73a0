package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/middleware"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
)

// NoBidUnknown is the nbr value returned when no ad could be chosen.
const NoBidUnknown = 1

// adRequest is the body of /ad and /ads. Keywords and Limit only apply to /ads.
type adRequest struct {
	SiteID   string   `json:"site_id"`
	ZoneID   string   `json:"zone_id"`
	UserID   string   `json:"user_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

func (a adRequest) toModel() models.AdRequest {
	return models.AdRequest{SiteID: a.SiteID, ZoneID: a.ZoneID, UserID: a.UserID, Keywords: a.Keywords}
}

type adResponse struct {
	ID    string               `json:"id"`
	Ad    *models.AdDescriptor `json:"ad,omitempty"`
	Nbr   int                  `json:"nbr,omitempty"`
	Debug any                  `json:"debug,omitempty"`
}

type adsResponse struct {
	ID  string                `json:"id"`
	Ads []models.AdDescriptor `json:"ads"`
	Nbr int                   `json:"nbr,omitempty"`
}

// decodeAdRequest reads and validates a selection request body.
func decodeAdRequest(w http.ResponseWriter, r *http.Request) (adRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return adRequest{}, fmt.Errorf("read body: %w", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	var req adRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return adRequest{}, fmt.Errorf("parse json: %w", err)
	}
	if req.SiteID == "" || req.ZoneID == "" {
		return adRequest{}, logic.ErrMissingZone
	}
	if req.Limit < 0 {
		return adRequest{}, errors.New("limit must not be negative")
	}
	return req, nil
}

// GetAdHandler handles POST /ad: one ad for a placement.
func (s *Server) GetAdHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAdHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ad"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ad"
	const method = "POST"
	requestID := middleware.RequestIDFromContext(ctx)

	req, err := decodeAdRequest(w, r)
	if err != nil {
		logger.Warn("decode request", zap.Error(err), zap.String("event_type", "ad_request"))
		s.record(endpoint, method, http.StatusBadRequest, start)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("zone_id", req.ZoneID),
		attribute.String("user_id", req.UserID),
	)

	debugEnabled := s.DebugTrace || r.URL.Query().Get("debug") == "1"
	var selTrace logic.SelectionTrace
	var ad *models.AdEntry
	if debugEnabled {
		ad, err = s.Selector.ChooseAdWithTrace(ctx, req.toModel(), &selTrace)
	} else {
		ad, err = s.Selector.ChooseAd(ctx, req.toModel())
	}
	if err != nil {
		status := statusFor(err)
		logger.Error("ad selection failed",
			zap.Error(err),
			zap.String("site_id", req.SiteID),
			zap.String("zone_id", req.ZoneID),
			zap.Int("status", status))
		s.record(endpoint, method, status, start)
		writeError(w, r, status, publicMessage(status, err))
		return
	}

	resp := adResponse{ID: requestID}
	if debugEnabled {
		resp.Debug = map[string]any{"trace": selTrace}
	}
	if ad == nil {
		span.SetAttributes(attribute.String("ad.result", "no_ad"))
		if observability.ShouldSample(observability.GetSamplingRate()) {
			logger.Info("no ad", zap.String("site_id", req.SiteID), zap.String("zone_id", req.ZoneID), zap.String("event_type", "no_ad"))
		}
		s.Metrics.IncrementNoAds()
		resp.Nbr = NoBidUnknown
	} else {
		d := ad.Descriptor()
		resp.Ad = &d
		span.SetAttributes(
			attribute.String("ad.result", "ad"),
			attribute.String("ad.campaign_id", d.CampaignID.String()),
			attribute.String("ad.ad_unit_id", d.AdUnitID),
		)
		if observability.ShouldSample(observability.GetSamplingRate()) {
			logger.Info("ad served",
				zap.String("campaign_id", d.CampaignID.String()),
				zap.String("ad_unit_id", d.AdUnitID),
				zap.String("event_type", "ad_served"))
		}
	}
	s.record(endpoint, method, http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}

// GetAdsHandler handles POST /ads: a keyword-ranked list of ads.
func (s *Server) GetAdsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "GetAdsHandler",
		trace.WithAttributes(
			attribute.String("http.method", "POST"),
			attribute.String("http.route", "/ads"),
		))
	defer span.End()

	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "ads"
	const method = "POST"

	req, err := decodeAdRequest(w, r)
	if err != nil {
		logger.Warn("decode request", zap.Error(err), zap.String("event_type", "ads_request"))
		s.record(endpoint, method, http.StatusBadRequest, start)
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	limit := req.Limit
	if limit == 0 || limit > s.MaxAds {
		limit = s.MaxAds
	}
	span.SetAttributes(
		attribute.String("site_id", req.SiteID),
		attribute.String("zone_id", req.ZoneID),
		attribute.Int("limit", limit),
	)

	seq, err := s.Selector.ChooseAds(ctx, req.toModel())
	if err != nil {
		status := statusFor(err)
		logger.Error("ads selection failed", zap.Error(err), zap.Int("status", status))
		s.record(endpoint, method, status, start)
		writeError(w, r, status, publicMessage(status, err))
		return
	}

	resp := adsResponse{ID: middleware.RequestIDFromContext(ctx), Ads: []models.AdDescriptor{}}
	for e := range seq {
		resp.Ads = append(resp.Ads, e.Descriptor())
		if len(resp.Ads) == limit {
			break
		}
	}
	if len(resp.Ads) == 0 {
		s.Metrics.IncrementNoAds()
		resp.Nbr = NoBidUnknown
	}
	span.SetAttributes(attribute.Int("ads.count", len(resp.Ads)))
	s.record(endpoint, method, http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}
