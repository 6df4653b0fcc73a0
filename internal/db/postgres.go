package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/patrickwarner/adselect/internal/models"
)

// PostgresInventory stores zone inventory in a hash-partitioned table. The
// partition key is (site_id, zone_id), so a zone lookup is pruned to a single
// partition; the (advertiser_id, campaign_suffix) index serves campaign
// removal without scanning every zone.
type PostgresInventory struct {
	DB         *sql.DB
	Partitions int
	queries    inventoryQueries
}

// schemaSQL builds the parent table, its hash partitions and indexes.
func schemaSQL(partitions int) string {
	var b strings.Builder
	b.WriteString(`CREATE TABLE IF NOT EXISTS zone_entries (
    site_id TEXT NOT NULL,
    zone_id TEXT NOT NULL,
    advertiser_id TEXT NOT NULL,
    campaign_suffix TEXT NOT NULL,
    ad_unit_id TEXT NOT NULL,
    bid DOUBLE PRECISION NOT NULL CHECK (bid >= 0),
    keywords TEXT[]
) PARTITION BY HASH (site_id, zone_id);
`)
	for i := 0; i < partitions; i++ {
		fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s PARTITION OF zone_entries FOR VALUES WITH (MODULUS %d, REMAINDER %d);\n",
			partitionTable(i), partitions, i)
	}
	b.WriteString(`
CREATE INDEX IF NOT EXISTS idx_zone_entries_zone ON zone_entries (site_id, zone_id, bid DESC);
CREATE INDEX IF NOT EXISTS idx_zone_entries_campaign ON zone_entries (advertiser_id, campaign_suffix);
CREATE TABLE IF NOT EXISTS zones (
    site_id TEXT NOT NULL,
    zone_id TEXT NOT NULL,
    PRIMARY KEY (site_id, zone_id)
);
`)
	return b.String()
}

func partitionTable(i int) string {
	return fmt.Sprintf("zone_entries_p%d", i)
}

// InitPostgres connects to Postgres with connection pooling configuration and
// ensures the partitioned inventory schema exists.
func InitPostgres(ctx context.Context, dsn string, partitions, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*PostgresInventory, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("postgres inventory needs at least one partition, got %d", partitions)
	}
	// Register the otelsql wrapper for postgres
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &PostgresInventory{DB: db, Partitions: partitions}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	zap.L().Info("Connected to Postgres inventory",
		zap.Int("partitions", partitions),
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns),
		zap.Duration("conn_max_lifetime", connMaxLifetime))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *PostgresInventory) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

func (p *PostgresInventory) ensureSchema(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schemaSQL(p.Partitions)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

const selectZoneSQL = `SELECT advertiser_id, campaign_suffix, ad_unit_id, bid, keywords
FROM zone_entries WHERE site_id = $1 AND zone_id = $2 ORDER BY bid DESC`

const zoneExistsSQL = `SELECT EXISTS (SELECT 1 FROM zones WHERE site_id = $1 AND zone_id = $2)`

// inventoryQueries is the SQL behind the read and removal paths.
type inventoryQueries interface {
	zoneEntries(ctx context.Context, siteID, zoneID string) ([]models.AdEntry, error)
	zoneRegistered(ctx context.Context, siteID, zoneID string) (bool, error)
	deleteCampaign(ctx context.Context, partition int, id models.CampaignID) (map[models.ZoneKey]int, error)
}

func (p *PostgresInventory) q() inventoryQueries {
	if p.queries != nil {
		return p.queries
	}
	return sqlQueries{db: p.DB}
}

type sqlQueries struct {
	db *sql.DB
}

func (q sqlQueries) zoneEntries(ctx context.Context, siteID, zoneID string) ([]models.AdEntry, error) {
	rows, err := q.db.QueryContext(ctx, selectZoneSQL, siteID, zoneID)
	if err != nil {
		return nil, unavailable("query zone", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []models.AdEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return entries, nil
}

func (q sqlQueries) zoneRegistered(ctx context.Context, siteID, zoneID string) (bool, error) {
	var exists bool
	if err := q.db.QueryRowContext(ctx, zoneExistsSQL, siteID, zoneID).Scan(&exists); err != nil {
		return false, unavailable("query zone existence", err)
	}
	return exists, nil
}

func (q sqlQueries) deleteCampaign(ctx context.Context, partition int, id models.CampaignID) (map[models.ZoneKey]int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE advertiser_id = $1 AND campaign_suffix = $2 RETURNING site_id, zone_id`, partitionTable(partition))
	rows, err := q.db.QueryContext(ctx, query, id.AdvertiserID, id.Suffix)
	if err != nil {
		return nil, unavailable("delete campaign", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	touched := make(map[models.ZoneKey]int)
	for rows.Next() {
		var zk models.ZoneKey
		if err := rows.Scan(&zk.SiteID, &zk.ZoneID); err != nil {
			return nil, fmt.Errorf("scan deleted row: %w", err)
		}
		touched[zk]++
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("rows error", err)
	}
	return touched, nil
}

// GetZone loads one zone. Zones never registered return nil, nil; registered
// zones with no entries return an empty record.
func (p *PostgresInventory) GetZone(ctx context.Context, siteID, zoneID string) (*models.ZoneRecord, error) {
	entries, err := p.q().zoneEntries(ctx, siteID, zoneID)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		return &models.ZoneRecord{SiteID: siteID, ZoneID: zoneID, Entries: entries}, nil
	}

	exists, err := p.q().zoneRegistered(ctx, siteID, zoneID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &models.ZoneRecord{SiteID: siteID, ZoneID: zoneID, Entries: []models.AdEntry{}}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one entry row. The campaign id halves are validated here so
// corrupt rows fail at read time.
func scanEntry(row rowScanner) (models.AdEntry, error) {
	var (
		adv, suffix string
		e           models.AdEntry
		keywords    []string
	)
	if err := row.Scan(&adv, &suffix, &e.AdUnitID, &e.Bid, pq.Array(&keywords)); err != nil {
		return models.AdEntry{}, fmt.Errorf("scan zone entry: %w", err)
	}
	id, err := models.NewCampaignID(adv, suffix)
	if err != nil {
		return models.AdEntry{}, err
	}
	e.CampaignID = id
	e.Keywords = keywords
	if err := e.Validate(); err != nil {
		return models.AdEntry{}, err
	}
	return e, nil
}

// PutZone replaces a zone's entries in one transaction.
func (p *PostgresInventory) PutZone(ctx context.Context, z models.ZoneRecord) error {
	if err := z.Validate(); err != nil {
		return err
	}
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `INSERT INTO zones (site_id, zone_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, z.SiteID, z.ZoneID); err != nil {
		return unavailable("insert zone", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zone_entries WHERE site_id = $1 AND zone_id = $2`, z.SiteID, z.ZoneID); err != nil {
		return unavailable("clear zone", err)
	}
	for _, e := range z.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO zone_entries (site_id, zone_id, advertiser_id, campaign_suffix, ad_unit_id, bid, keywords) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			z.SiteID, z.ZoneID, e.CampaignID.AdvertiserID, e.CampaignID.Suffix, e.AdUnitID, e.Bid, pq.Array(e.Keywords)); err != nil {
			return unavailable("insert zone entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// RemoveCampaignAds deletes the campaign from every partition. Each partition
// is addressed directly and handled concurrently; a delete is atomic within
// its partition. Postgres cannot name the zones of a partition whose delete
// failed, so failures are reported through PendingPartitions.
func (p *PostgresInventory) RemoveCampaignAds(ctx context.Context, id models.CampaignID) (models.RemovalResult, error) {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		result models.RemovalResult
		zones  = make(map[models.ZoneKey]struct{})
	)
	queries := p.q()
	for i := 0; i < p.Partitions; i++ {
		g.Go(func() error {
			touched, err := queries.deleteCampaign(ctx, i, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("campaign removal pending for partition",
					zap.String("campaign_id", id.String()), zap.Int("partition", i), zap.Error(err))
				result.PendingPartitions = append(result.PendingPartitions, i)
				return nil
			}
			for zk, n := range touched {
				zones[zk] = struct{}{}
				result.EntriesRemoved += n
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(result.PendingPartitions)
	result.ZonesMatched = len(zones)
	result.ZonesUpdated = len(zones)
	return result, nil
}
