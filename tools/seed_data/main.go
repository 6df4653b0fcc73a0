package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adselect/internal/config"
	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/lifecycle"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
	"github.com/patrickwarner/adselect/internal/partitioning"
)

var (
	sites        = flag.Int("sites", 2, "number of sites")
	zonesPerSite = flag.Int("zones", 3, "zones per site")
	entriesPer   = flag.Int("entries", 8, "ad entries per zone")
	advertisers  = flag.Int("advertisers", 4, "number of advertisers")
	campPerAdv   = flag.Int("campaigns", 2, "campaigns per advertiser")
	users        = flag.Int("users", 100, "visitor profiles to seed")
	impressions  = flag.Int("impressions", 5, "impressions per visitor")
	seed         = flag.Uint64("seed", uint64(time.Now().UnixNano()), "rng seed")
	deactivate   = flag.String("deactivate", "", "publish a deactivation trigger for this advertiser:campaign id and exit")
	reason       = flag.String("reason", "seed_data", "reason sent with -deactivate")
)

// zoneWriter is implemented by both inventory backends.
type zoneWriter interface {
	PutZone(ctx context.Context, z models.ZoneRecord) error
}

func main() {
	flag.Parse()

	logger, err := observability.InitLoggerWithService("seed-data")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()
	ctx := context.Background()

	store, err := db.InitRedis(ctx, cfg.RedisAddrs, partitioning.NewStrategy(cfg.InventoryPartitions))
	if err != nil {
		logger.Fatal("connect redis", zap.Error(err))
	}
	defer store.Close()
	store.Logger = logger

	if *deactivate != "" {
		id, err := models.ParseCampaignID(*deactivate)
		if err != nil {
			logger.Fatal("parse campaign id", zap.Error(err))
		}
		if err := lifecycle.Publish(ctx, store.Client, cfg.LifecycleChannel, lifecycle.Trigger{CampaignID: id, Reason: *reason}); err != nil {
			logger.Fatal("publish trigger", zap.Error(err))
		}
		fmt.Printf("deactivation of %s published on %s\n", id, cfg.LifecycleChannel)
		return
	}

	var inventory zoneWriter = store
	if cfg.InventoryBackend == config.BackendPostgres {
		pg, err := db.InitPostgres(ctx, cfg.PostgresDSN, cfg.InventoryPartitions,
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer pg.Close()
		inventory = pg
	}

	g := newGenerator(*seed)
	zones := g.zones(*sites, *zonesPerSite, *entriesPer, g.campaigns(*advertisers, *campPerAdv))
	for _, z := range zones {
		if err := inventory.PutZone(ctx, z); err != nil {
			logger.Fatal("put zone", zap.String("zone", z.Key().String()), zap.Error(err))
		}
	}

	profiles := g.profiles(*users, *impressions, zones, time.Now().UTC(), cfg.FrequencyWindow)
	for _, p := range profiles {
		if err := store.PutProfile(ctx, *p); err != nil {
			logger.Fatal("put profile", zap.String("user_id", p.UserID), zap.Error(err))
		}
	}

	logger.Info("seed data written",
		zap.String("backend", cfg.InventoryBackend),
		zap.Int("zones", len(zones)),
		zap.Int("profiles", len(profiles)),
		zap.Uint64("seed", *seed))
	fmt.Println("seed data inserted")
}
