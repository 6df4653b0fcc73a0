package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/patrickwarner/adselect/internal/config"
	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
	"github.com/patrickwarner/adselect/internal/partitioning"
)

var (
	server          string
	users           int
	zoneCSV         string
	keywordCSV      string
	multi           bool
	limit           int
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	stats           bool
	flush           bool
	record          bool
	debug           bool
	label           string
	seed            uint64
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

const statsInterval = 5 * time.Second

var (
	countSent    uint64
	countFilled  uint64
	countNoAd    uint64
	countErrors  uint64
	countRecords uint64
	latencyNanos uint64
)

type selectRequest struct {
	SiteID   string   `json:"site_id"`
	ZoneID   string   `json:"zone_id"`
	UserID   string   `json:"user_id,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type selectResponse struct {
	ID  string                `json:"id"`
	Ad  *models.AdDescriptor  `json:"ad,omitempty"`
	Ads []models.AdDescriptor `json:"ads,omitempty"`
}

// lockedRand serialises access to a seeded generator shared by the workers.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.IntVar(&users, "users", 100, "number of unique users")
	flag.StringVar(&zoneCSV, "zones", "demo.example.com/header,demo.example.com/sidebar", "comma-separated site/zone pairs")
	flag.StringVar(&keywordCSV, "keywords", "", "comma-separated keyword pool; each /ads request draws up to two")
	flag.BoolVar(&multi, "multi", false, "call /ads instead of /ad")
	flag.IntVar(&limit, "limit", 3, "ads requested per /ads call")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "delete visitor profiles before sending traffic")
	flag.BoolVar(&record, "record", true, "write an impression to the visitor profile for every ad served")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.Uint64Var(&seed, "seed", uint64(time.Now().UnixNano()), "rng seed")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	zones, err := parseZones(zoneCSV)
	if err != nil {
		logger.Fatal("parse zones", zap.Error(err))
	}
	keywords := splitCSV(keywordCSV)

	var store *db.RedisStore
	if flush || record {
		cfg := config.Load()
		store, err = db.InitRedis(context.Background(), cfg.RedisAddrs, partitioning.NewStrategy(cfg.InventoryPartitions))
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer store.Close()
		store.Logger = logger
	}
	if flush {
		n, err := flushProfiles(context.Background(), store)
		if err != nil {
			logger.Fatal("flush profiles", zap.Error(err))
		}
		logger.Info("visitor profiles flushed", zap.Int("keys_deleted", n), zap.String("note", "zone inventory preserved"))
	}
	if !record {
		store = nil
	}

	r := &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				elapsed := time.Since(start)
				if elapsed%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := 1 + (r.Float64()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		zk := zones[r.IntN(len(zones))]
		body := selectRequest{
			SiteID: zk.SiteID,
			ZoneID: zk.ZoneID,
			UserID: fmt.Sprintf("user%d", r.IntN(users)),
		}
		if multi {
			body.Limit = limit
			body.Keywords = pickKeywords(r, keywords)
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			atomic.AddUint64(&countSent, 1)
			send(store, body)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

// send posts one selection request and, when store is set, records an
// impression for every ad returned.
func send(store *db.RedisStore, body selectRequest) {
	path := "/ad"
	if multi {
		path = "/ads"
	}
	blob, err := json.Marshal(body)
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("marshal error", zap.Error(err))
		return
	}
	reqID := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+path, bytes.NewReader(blob))
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("request build error", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()
	resp, err := httpClient.Do(req)
	atomic.AddUint64(&latencyNanos, uint64(time.Since(start)))
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("ad request error", zap.Error(err))
		return
	}
	bodyBytes, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("read body error", zap.Error(err))
		return
	}
	if resp.StatusCode != http.StatusOK {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("unexpected status", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(bodyBytes))))
		return
	}
	var res selectResponse
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("decode error", zap.Error(err), zap.String("body", strings.TrimSpace(string(bodyBytes))))
		return
	}
	served := res.Ads
	if res.Ad != nil {
		served = append(served, *res.Ad)
	}
	if len(served) == 0 {
		atomic.AddUint64(&countNoAd, 1)
		logger.Debug("no ad", zap.String("request_id", reqID))
		return
	}
	atomic.AddUint64(&countFilled, 1)

	if store == nil || body.UserID == "" {
		return
	}
	now := time.Now().UTC()
	for _, ad := range served {
		ev := models.EventRecord{Timestamp: now, AdUnitID: ad.AdUnitID, SiteID: body.SiteID, ZoneID: body.ZoneID}
		if err := store.RecordImpression(ctx, body.UserID, ad.CampaignID.AdvertiserID, ev); err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("record impression", zap.Error(err), zap.String("user_id", body.UserID))
			return
		}
		atomic.AddUint64(&countRecords, 1)
	}
	logger.Debug("served", zap.String("request_id", reqID), zap.String("zone", body.SiteID+"/"+body.ZoneID), zap.Int("ads", len(served)))
}

// flushProfiles deletes every visitor profile. Zone inventory and the
// campaign index are left alone.
func flushProfiles(ctx context.Context, store *db.RedisStore) (int, error) {
	pattern := store.Strategy.ProfileKeyPattern()
	var deleted int64
	scan := func(ctx context.Context, c redis.Cmdable) error {
		iter := c.Scan(ctx, 0, pattern, 500).Iterator()
		for iter.Next(ctx) {
			n, err := c.Del(ctx, iter.Val()).Result()
			if err != nil {
				return err
			}
			atomic.AddInt64(&deleted, n)
		}
		return iter.Err()
	}
	var err error
	if cluster, ok := store.Client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return scan(ctx, c)
		})
	} else {
		err = scan(ctx, store.Client)
	}
	return int(deleted), err
}

func parseZones(csv string) ([]models.ZoneKey, error) {
	var out []models.ZoneKey
	for _, item := range splitCSV(csv) {
		site, zone, ok := strings.Cut(item, "/")
		if !ok || site == "" || zone == "" {
			return nil, fmt.Errorf("zone %q is not site/zone", item)
		}
		out = append(out, models.ZoneKey{SiteID: site, ZoneID: zone})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no zones given")
	}
	return out, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func pickKeywords(r *lockedRand, pool []string) []string {
	if len(pool) == 0 {
		return nil
	}
	n := r.IntN(3)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, pool[r.IntN(len(pool))])
	}
	return out
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	filled := atomic.LoadUint64(&countFilled)
	noAd := atomic.LoadUint64(&countNoAd)
	errs := atomic.LoadUint64(&countErrors)
	recs := atomic.LoadUint64(&countRecords)
	var fill float64
	var avg time.Duration
	if sent > 0 {
		fill = float64(filled) / float64(sent)
		avg = time.Duration(atomic.LoadUint64(&latencyNanos) / sent)
	}
	logger.Info("stats", zap.String("run", label), zap.Uint64("sent", sent), zap.Uint64("filled", filled), zap.Uint64("no_ad", noAd), zap.Uint64("errors", errs), zap.Uint64("impressions_recorded", recs), zap.Float64("fill_rate", fill), zap.Duration("avg_latency", avg))
}
