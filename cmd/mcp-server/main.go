package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/config"
	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/lifecycle"
	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/logic/selectors"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
	"github.com/patrickwarner/adselect/internal/partitioning"
)

const toolTimeout = 10 * time.Second

type ChooseAdInput struct {
	SiteID string `json:"site_id"`
	ZoneID string `json:"zone_id"`
	UserID string `json:"user_id,omitempty"`
}

// Ad is the tool view of a chosen entry. Campaign ids travel in their
// compact "advertiser:campaign" form.
type Ad struct {
	CampaignID string `json:"campaign_id"`
	AdUnitID   string `json:"ad_unit_id"`
}

func toAd(e models.AdEntry) Ad {
	return Ad{CampaignID: e.CampaignID.String(), AdUnitID: e.AdUnitID}
}

type ChooseAdOutput struct {
	Ad    *Ad  `json:"ad,omitempty"`
	Found bool `json:"found"`
}

type ChooseAdsInput struct {
	SiteID   string   `json:"site_id"`
	ZoneID   string   `json:"zone_id"`
	UserID   string   `json:"user_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type ChooseAdsOutput struct {
	Ads []Ad `json:"ads"`
}

type DeactivateCampaignInput struct {
	CampaignID string `json:"campaign_id"`
	Reason     string `json:"reason,omitempty"`
}

// DeactivateCampaignOutput flattens lifecycle.Report. PendingPartitions is
// only set by the Postgres inventory.
type DeactivateCampaignOutput struct {
	CampaignID        string   `json:"campaign_id"`
	Attempts          int      `json:"attempts"`
	Converged         bool     `json:"converged"`
	ZonesUpdated      int      `json:"zones_updated"`
	EntriesRemoved    int      `json:"entries_removed"`
	Pending           []string `json:"pending,omitempty"`
	PendingPartitions []int    `json:"pending_partitions,omitempty"`
}

func toDeactivateOutput(r lifecycle.Report) DeactivateCampaignOutput {
	out := DeactivateCampaignOutput{
		CampaignID:        r.CampaignID.String(),
		Attempts:          r.Attempts,
		Converged:         r.Converged,
		ZonesUpdated:      r.Result.ZonesUpdated,
		EntriesRemoved:    r.Result.EntriesRemoved,
		PendingPartitions: r.Result.PendingPartitions,
	}
	for _, zk := range r.Result.Pending {
		out.Pending = append(out.Pending, zk.String())
	}
	return out
}

// ToolServer exposes selection and campaign lifecycle as MCP tools.
type ToolServer struct {
	selector selectors.Selector
	manager  deactivator
	maxAds   int
	logger   *zap.Logger
}

// deactivator is the part of the lifecycle manager the tools need.
type deactivator interface {
	DeactivateCampaign(ctx context.Context, id models.CampaignID) (lifecycle.Report, error)
}

// ChooseAd implements the choose_ad tool.
func (s *ToolServer) ChooseAd(ctx context.Context, req *mcp.CallToolRequest, input ChooseAdInput) (*mcp.CallToolResult, ChooseAdOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	ad, err := s.selector.ChooseAd(ctx, models.AdRequest{SiteID: input.SiteID, ZoneID: input.ZoneID, UserID: input.UserID})
	if err != nil {
		return nil, ChooseAdOutput{}, fmt.Errorf("choose ad: %w", err)
	}
	if ad == nil {
		return nil, ChooseAdOutput{}, nil
	}
	out := toAd(*ad)
	s.logger.Info("choose_ad", zap.String("zone", input.SiteID+"/"+input.ZoneID), zap.String("campaign_id", out.CampaignID))
	return nil, ChooseAdOutput{Ad: &out, Found: true}, nil
}

// ChooseAds implements the choose_ads tool.
func (s *ToolServer) ChooseAds(ctx context.Context, req *mcp.CallToolRequest, input ChooseAdsInput) (*mcp.CallToolResult, ChooseAdsOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	limit := input.Limit
	if limit <= 0 || limit > s.maxAds {
		limit = s.maxAds
	}
	seq, err := s.selector.ChooseAds(ctx, models.AdRequest{
		SiteID: input.SiteID, ZoneID: input.ZoneID, UserID: input.UserID, Keywords: input.Keywords,
	})
	if err != nil {
		return nil, ChooseAdsOutput{}, fmt.Errorf("choose ads: %w", err)
	}
	out := ChooseAdsOutput{Ads: []Ad{}}
	for e := range seq {
		out.Ads = append(out.Ads, toAd(e))
		if len(out.Ads) == limit {
			break
		}
	}
	return nil, out, nil
}

// DeactivateCampaign implements the deactivate_campaign tool.
func (s *ToolServer) DeactivateCampaign(ctx context.Context, req *mcp.CallToolRequest, input DeactivateCampaignInput) (*mcp.CallToolResult, DeactivateCampaignOutput, error) {
	id, err := models.ParseCampaignID(input.CampaignID)
	if err != nil {
		return nil, DeactivateCampaignOutput{}, err
	}
	s.logger.Info("deactivate_campaign", zap.String("campaign_id", id.String()), zap.String("reason", input.Reason))
	report, err := s.manager.DeactivateCampaign(ctx, id)
	if err != nil {
		return nil, toDeactivateOutput(report), fmt.Errorf("deactivate %s: %w", id, err)
	}
	return nil, toDeactivateOutput(report), nil
}

func newMCPServer(ts *ToolServer) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "adselect",
		Version: "1.0.0",
	}, nil)

	zoneProps := map[string]interface{}{
		"site_id": map[string]interface{}{
			"type":        "string",
			"description": "Site the placement belongs to",
		},
		"zone_id": map[string]interface{}{
			"type":        "string",
			"description": "Placement slot on the site",
		},
		"user_id": map[string]interface{}{
			"type":        "string",
			"description": "Visitor id used for frequency capping (optional)",
		},
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "choose_ad",
		Description: "Choose the single best ad for a site zone, honouring the visitor's frequency caps",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": zoneProps,
			"required":   []string{"site_id", "zone_id"},
		},
	}, ts.ChooseAd)

	multiProps := map[string]interface{}{
		"keywords": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Search keywords used to score entries (optional)",
		},
		"limit": map[string]interface{}{
			"type":        "integer",
			"minimum":     1,
			"description": "Maximum number of ads to return (optional)",
		},
	}
	for k, v := range zoneProps {
		multiProps[k] = v
	}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "choose_ads",
		Description: "Rank a zone's ads by bid and keyword relevance, skipping frequency-capped units",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": multiProps,
			"required":   []string{"site_id", "zone_id"},
		},
	}, ts.ChooseAds)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deactivate_campaign",
		Description: "Remove every ad of a campaign (advertiser:campaign) from all zones",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"campaign_id": map[string]interface{}{
					"type":        "string",
					"description": "Campaign id in advertiser:campaign form",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Why the campaign is being deactivated (optional)",
				},
			},
			"required": []string{"campaign_id"},
		},
	}, ts.DeactivateCampaign)

	return server
}

func main() {
	cfg := config.Load()

	// stdout carries the MCP protocol, so logs go to stderr
	logger, err := observability.InitStderrLogger(cfg.ServiceName + "-mcp")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting adselect MCP Server")

	ctx := context.Background()
	store, err := db.InitRedis(ctx, cfg.RedisAddrs, partitioning.NewStrategy(cfg.InventoryPartitions))
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer store.Close()
	store.Logger = logger

	metrics := observability.NewPrometheusRegistry()
	selector := selectors.NewAdSelector(store, store)
	selector.SetLogger(logger)
	selector.SetMetrics(metrics)
	selector.SetRandomSource(logic.NewRandomSource(cfg.ShuffleSeed))
	selector.SetFrequencyCap(logic.NewFrequencyCap(cfg.FrequencyWindow))
	selector.SetTimeouts(cfg.ZoneFetchTimeout, cfg.ProfileFetchTimeout)

	manager := lifecycle.NewManager(store, logger, metrics)
	manager.SetRetry(cfg.DeactivationMaxAttempts, cfg.DeactivationRetryInterval)

	server := newMCPServer(&ToolServer{selector: selector, manager: manager, maxAds: cfg.MaxAds, logger: logger})

	stdioTransport := &mcp.StdioTransport{}

	// Add logging transport to debug MCP communication
	var logBuffer bytes.Buffer
	loggingTransport := &mcp.LoggingTransport{
		Transport: stdioTransport,
		Writer:    &logBuffer,
	}

	logger.Info("MCP Server running via stdio")

	if err := server.Run(ctx, loggingTransport); err != nil {
		logger.Fatal("Server error", zap.Error(err), zap.String("mcp_logs", logBuffer.String()))
	}
}
