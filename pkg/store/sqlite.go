package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"nearbygo/pkg/db"
	"nearbygo/pkg/geo"
	"nearbygo/pkg/model"
)

// Store defines the repository interface.
// It composes all sub-interfaces for full store access.
// Consumers should depend on specific sub-interfaces when possible.
type Store interface {
	PlaceCacheStore
	UsageStore
	StateStore

	// Close closes the store connection.
	Close() error
}

// ReusePolicy controls which persisted records may answer a lookup.
type ReusePolicy struct {
	// Tolerance is the fraction of the requested radius a stored center may be
	// away from the query center.
	Tolerance float64
	// CoverageRatio is the minimum stored radius as a fraction of the requested one.
	CoverageRatio float64
	// MaxAge is the reuse ceiling. Older records stay stored but are not served.
	MaxAge time.Duration
	// UpsertToleranceDeg is the half-width, in degrees, of the box in which a fresh
	// result replaces an existing record of the same radius.
	UpsertToleranceDeg float64
}

// DefaultReusePolicy returns the production reuse parameters.
func DefaultReusePolicy() ReusePolicy {
	return ReusePolicy{
		Tolerance:          0.1,
		CoverageRatio:      0.8,
		MaxAge:             7 * 24 * time.Hour,
		UpsertToleranceDeg: 0.001,
	}
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db     *db.DB
	policy ReusePolicy
	now    func() time.Time
}

// NewSQLiteStore creates a new store with the default reuse policy.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d, policy: DefaultReusePolicy(), now: time.Now}
}

// SetReusePolicy replaces the reuse policy. Zero fields keep their defaults.
func (s *SQLiteStore) SetReusePolicy(p ReusePolicy) {
	def := DefaultReusePolicy()
	if p.Tolerance <= 0 {
		p.Tolerance = def.Tolerance
	}
	if p.CoverageRatio <= 0 {
		p.CoverageRatio = def.CoverageRatio
	}
	if p.MaxAge <= 0 {
		p.MaxAge = def.MaxAge
	}
	if p.UpsertToleranceDeg <= 0 {
		p.UpsertToleranceDeg = def.UpsertToleranceDeg
	}
	s.policy = p
}

// ReusePolicy returns the active policy.
func (s *SQLiteStore) ReusePolicy() ReusePolicy {
	return s.policy
}

// SetClock replaces the time source used for age checks. Intended for tests.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Place cache ---

const placeCacheColumns = `id, lat, lon, radius_m, places, total_results, raw_response, created_at, updated_at`

func (s *SQLiteStore) FindReusable(ctx context.Context, lat, lng float64, radiusM int) (*model.CacheRecord, error) {
	cutoff := s.now().Add(-s.policy.MaxAge).UnixMilli()
	return s.findNear(ctx, lat, lng, radiusM, cutoff)
}

func (s *SQLiteStore) FindStale(ctx context.Context, lat, lng float64, radiusM int) (*model.CacheRecord, error) {
	return s.findNear(ctx, lat, lng, radiusM, math.MinInt64)
}

func (s *SQLiteStore) findNear(ctx context.Context, lat, lng float64, radiusM int, updatedAfter int64) (*model.CacheRecord, error) {
	tolerance := float64(radiusM) * s.policy.Tolerance
	box := geo.SearchBox(geo.Point{Lat: lat, Lon: lng}, tolerance)
	minRadius := float64(radiusM) * s.policy.CoverageRatio

	row := s.db.QueryRowContext(ctx,
		`SELECT `+placeCacheColumns+`
		 FROM place_cache
		 WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		   AND radius_m >= ?
		   AND updated_at > ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		box.Min.Lat(), box.Max.Lat(), box.Min.Lon(), box.Max.Lon(), minRadius, updatedAfter)

	rec, err := scanCacheRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpsertPlaceCache replaces the record of the same radius whose center lies in
// the tight upsert box, or inserts a new one. The stored center of an existing
// record does not move. rec.ID and rec.CreatedAt are filled in.
func (s *SQLiteStore) UpsertPlaceCache(ctx context.Context, rec *model.CacheRecord) error {
	placesBlob, err := encodeBlob(rec.Places)
	if err != nil {
		return fmt.Errorf("failed to encode places: %w", err)
	}
	rawBlob, err := encodeBlob(rec.Raw)
	if err != nil {
		return fmt.Errorf("failed to encode raw response: %w", err)
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	d := s.policy.UpsertToleranceDeg
	var id, createdMs int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM place_cache
		 WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ? AND radius_m = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		rec.Lat-d, rec.Lat+d, rec.Lng-d, rec.Lng+d, rec.RadiusM).Scan(&id, &createdMs)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		createdMs = updatedAt.UnixMilli()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO place_cache (lat, lon, radius_m, places, total_results, raw_response, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.Lat, rec.Lng, rec.RadiusM, placesBlob, rec.TotalResults, rawBlob, createdMs, createdMs)
		if err != nil {
			return fmt.Errorf("failed to insert place cache: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
	case err != nil:
		return fmt.Errorf("failed to look up place cache: %w", err)
	default:
		_, err := tx.ExecContext(ctx,
			`UPDATE place_cache SET places = ?, total_results = ?, raw_response = ?, updated_at = ? WHERE id = ?`,
			placesBlob, rec.TotalResults, rawBlob, updatedAt.UnixMilli(), id)
		if err != nil {
			return fmt.Errorf("failed to update place cache: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	rec.ID = id
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedAt.UnixMilli())
	return nil
}

// PurgePlaceCache deletes records last updated before cutoff.
func (s *SQLiteStore) PurgePlaceCache(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM place_cache WHERE updated_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListPlaceCacheInBounds(ctx context.Context, bound orb.Bound) ([]model.CacheSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lat, lon, radius_m, total_results, updated_at
		 FROM place_cache
		 WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
		 ORDER BY updated_at DESC`,
		bound.Min.Lat(), bound.Max.Lat(), bound.Min.Lon(), bound.Max.Lon())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CacheSummary
	for rows.Next() {
		var cs model.CacheSummary
		var updatedMs int64
		if err := rows.Scan(&cs.ID, &cs.Lat, &cs.Lng, &cs.RadiusM, &cs.TotalResults, &updatedMs); err != nil {
			return nil, err
		}
		cs.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, cs)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountPlaceCache(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM place_cache").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheRecord(row rowScanner) (*model.CacheRecord, error) {
	var rec model.CacheRecord
	var placesBlob, rawBlob []byte
	var createdMs, updatedMs int64

	if err := row.Scan(&rec.ID, &rec.Lat, &rec.Lng, &rec.RadiusM, &placesBlob, &rec.TotalResults, &rawBlob, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	if err := decodeBlob(placesBlob, &rec.Places); err != nil {
		return nil, fmt.Errorf("failed to decode places of record %d: %w", rec.ID, err)
	}
	if err := decodeBlob(rawBlob, &rec.Raw); err != nil {
		return nil, fmt.Errorf("failed to decode raw response of record %d: %w", rec.ID, err)
	}
	if rec.Places == nil {
		rec.Places = []model.Place{}
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	rec.UpdatedAt = time.UnixMilli(updatedMs)
	return &rec, nil
}

// --- Usage ---

func (s *SQLiteStore) AppendUsage(ctx context.Context, rec *model.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	var errMsg sql.NullString
	if rec.Error != "" {
		errMsg = sql.NullString{String: rec.Error, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_usage (provider, endpoint, success, error_message, created_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Provider, rec.Endpoint, rec.Success, errMsg, rec.CreatedAt.UnixMilli())
	if err != nil {
		return err
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) ListUsage(ctx context.Context, start, end time.Time) ([]model.UsageRecord, error) {
	var where []string
	var args []any
	if !start.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, end.UnixMilli())
	}

	query := `SELECT id, provider, endpoint, success, error_message, created_at FROM api_usage`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UsageRecord
	for rows.Next() {
		var r model.UsageRecord
		var errMsg sql.NullString
		var createdMs int64
		if err := rows.Scan(&r.ID, &r.Provider, &r.Endpoint, &r.Success, &errMsg, &createdMs); err != nil {
			return nil, err
		}
		r.Error = errMsg.String
		r.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Compression Pooling ---

var (
	gzipWriterPool = sync.Pool{
		New: func() interface{} {
			return gzip.NewWriter(io.Discard)
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return new(bytes.Buffer)
		},
	}
)

func encodeBlob(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress(data)
}

func decodeBlob(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		plain, err := decompress(data)
		if err != nil {
			return err
		}
		data = plain
	}
	return json.Unmarshal(data, v)
}

func compress(data []byte) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	w := gzipWriterPool.Get().(*gzip.Writer)
	defer gzipWriterPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Must copy because buf is returned to pool
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- State ---

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, bool) {
	var val string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM persistent_state WHERE key = ?", key).Scan(&val)
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *SQLiteStore) SetState(ctx context.Context, key, val string) error {
	query := `INSERT OR REPLACE INTO persistent_state (key, value, created_at) VALUES (?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, key, val, s.now())
	return err
}

func (s *SQLiteStore) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM persistent_state WHERE key = ?", key)
	return err
}
