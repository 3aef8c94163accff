package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/ppiankov/promiselink/internal/logger"
	"github.com/ppiankov/promiselink/internal/model"
	"github.com/ppiankov/promiselink/internal/util"
)

// ErrNotFound is returned when a record id is not in the store
var ErrNotFound = errors.New("record not found")

// GormStore persists promises and evidence items, including the link records
// embedded on both sides, through gorm.
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
	now func() time.Time
}

// Open connects to the configured database and migrates the schema
func Open(ctx context.Context, cfg model.StoreConfig, log *zap.Logger) (*GormStore, error) {
	gormCfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		path := util.ExpandHome(cfg.DSN)
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown store driver: %s (supported: sqlite, postgres)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}

	if dialector.Name() == "sqlite" {
		// One writer at a time; also keeps :memory: databases on a single connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return New(ctx, db, log)
}

// New wraps an open gorm handle and migrates the schema
func New(ctx context.Context, db *gorm.DB, log *zap.Logger) (*GormStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&promiseRow{}, &evidenceRow{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &GormStore{
		db:  db,
		log: logger.OrNop(log),
		now: time.Now,
	}, nil
}

// Close releases the database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PromiseFilter selects promises
type PromiseFilter struct {
	Session string
	IDs     []string
}

// EvidenceFilter selects evidence items
type EvidenceFilter struct {
	Session  string
	Statuses []model.LinkingStatus // Empty = any status
	IDs      []string
	Limit    int // 0 = no limit
}

// UpsertPromises inserts or updates promise content. Link records and progress
// scores are owned by the store and never overwritten here.
func (s *GormStore) UpsertPromises(ctx context.Context, promises []model.Promise) (int, error) {
	if len(promises) == 0 {
		return 0, nil
	}
	rows := make([]promiseRow, 0, len(promises))
	for i, p := range promises {
		if p.ID == "" {
			return 0, fmt.Errorf("promise at index %d has no id", i)
		}
		row, err := toPromiseRow(p)
		if err != nil {
			return 0, fmt.Errorf("promise %s: %w", p.ID, err)
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"text",
			"description",
			"background",
			"responsible_department",
			"keywords",
			"party_code",
			"parliament_session_id",
			"updated_at",
		}),
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return 0, fmt.Errorf("upsert promises: %w", err)
	}
	return len(rows), nil
}

// UpsertEvidence inserts or updates evidence content. New items start Pending;
// the linking state of existing items is left alone.
func (s *GormStore) UpsertEvidence(ctx context.Context, items []model.EvidenceItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	rows := make([]evidenceRow, 0, len(items))
	for i, e := range items {
		if e.ID == "" {
			return 0, fmt.Errorf("evidence item at index %d has no id", i)
		}
		row, err := toEvidenceRow(e)
		if err != nil {
			return 0, fmt.Errorf("evidence %s: %w", e.ID, err)
		}
		rows = append(rows, row)
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"description",
			"bill_number",
			"bill_long_title",
			"bill_summary",
			"source_type",
			"date",
			"parliament_session_id",
			"departments",
			"key_concepts",
			"updated_at",
		}),
	}).CreateInBatches(&rows, 200).Error
	if err != nil {
		return 0, fmt.Errorf("upsert evidence: %w", err)
	}
	return len(rows), nil
}

// ListPromises returns promises ordered by id
func (s *GormStore) ListPromises(ctx context.Context, f PromiseFilter) ([]model.Promise, error) {
	q := s.db.WithContext(ctx).Model(&promiseRow{}).Order("id")
	if f.Session != "" {
		q = q.Where("parliament_session_id = ?", f.Session)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}

	var rows []promiseRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list promises: %w", err)
	}

	out := make([]model.Promise, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ListEvidence returns evidence items ordered by date then id
func (s *GormStore) ListEvidence(ctx context.Context, f EvidenceFilter) ([]model.EvidenceItem, error) {
	q := s.db.WithContext(ctx).Model(&evidenceRow{}).Order("date").Order("id")
	if f.Session != "" {
		q = q.Where("parliament_session_id = ?", f.Session)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("linking_status IN ?", statuses)
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []evidenceRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}

	out := make([]model.EvidenceItem, 0, len(rows))
	for _, r := range rows {
		e, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetEvidence loads one evidence item
func (s *GormStore) GetEvidence(ctx context.Context, id string) (*model.EvidenceItem, error) {
	row, err := findEvidence(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	e, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetPromise loads one promise
func (s *GormStore) GetPromise(ctx context.Context, id string) (*model.Promise, error) {
	row, err := findPromise(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	p, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CountByStatus returns how many evidence items are in each linking status
func (s *GormStore) CountByStatus(ctx context.Context, session string) (map[model.LinkingStatus]int, error) {
	var rows []struct {
		LinkingStatus string
		N             int
	}
	q := s.db.WithContext(ctx).Model(&evidenceRow{}).Select("linking_status, COUNT(*) AS n").Group("linking_status")
	if session != "" {
		q = q.Where("parliament_session_id = ?", session)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count evidence: %w", err)
	}

	out := make(map[model.LinkingStatus]int, len(rows))
	for _, r := range rows {
		out[model.LinkingStatus(r.LinkingStatus)] = r.N
	}
	return out, nil
}

// MarkProcessing claims an evidence item for the current run
func (s *GormStore) MarkProcessing(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, map[string]any{
		"linking_status": string(model.StatusProcessing),
	})
}

// MarkError records an unrecoverable input problem. The item stays in Error
// until it is reset.
func (s *GormStore) MarkError(ctx context.Context, id, reason string) error {
	return s.setStatus(ctx, id, map[string]any{
		"linking_status": string(model.StatusError),
		"linking_error":  reason,
	})
}

func (s *GormStore) setStatus(ctx context.Context, id string, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&evidenceRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update evidence %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateProgress stores a promise's derived progress score
func (s *GormStore) UpdateProgress(ctx context.Context, promiseID string, score model.ProgressScore) error {
	signals, err := encodeJSON(score.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	scoredAt := score.ScoredAt
	if scoredAt.IsZero() {
		scoredAt = s.now().UTC()
	}

	res := s.db.WithContext(ctx).Model(&promiseRow{}).Where("id = ?", promiseID).Updates(map[string]any{
		"progress_score":   score.Score,
		"progress_label":   score.Label,
		"progress_summary": score.Summary,
		"progress_signals": signals,
		"scored_at":        scoredAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update progress %s: %w", promiseID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("promise %s: %w", promiseID, ErrNotFound)
	}
	return nil
}

func findEvidence(db *gorm.DB, id string) (*evidenceRow, error) {
	var row evidenceRow
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("evidence %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load evidence %s: %w", id, err)
	}
	return &row, nil
}

func findPromise(db *gorm.DB, id string) (*promiseRow, error) {
	var row promiseRow
	err := db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("promise %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load promise %s: %w", id, err)
	}
	return &row, nil
}

// promisesMentioning returns the promises whose linked_evidence may reference
// evidenceID. The LIKE prefilter covers compact and spaced JSON encodings
// (sqlite stores what we write, postgres jsonb renders with a space) and the
// HTML-escaped form older rows may hold; callers must still check the decoded
// records.
func promisesMentioning(db *gorm.DB, evidenceID string) ([]promiseRow, error) {
	quoted, err := marshalJSON(evidenceID)
	if err != nil {
		return nil, err
	}
	escaped, err := json.Marshal(evidenceID)
	if err != nil {
		return nil, err
	}

	var patterns []any
	var clauses []string
	for _, q := range []string{string(quoted), string(escaped)} {
		for _, sep := range []string{":", ": "} {
			p := "%" + `"evidence_id"` + sep + q + "%"
			if containsString(patterns, p) {
				continue
			}
			patterns = append(patterns, p)
			clauses = append(clauses, "CAST(linked_evidence AS TEXT) LIKE ?")
		}
	}

	var rows []promiseRow
	err = db.Where(strings.Join(clauses, " OR "), patterns...).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find promises linked to %s: %w", evidenceID, err)
	}
	return rows, nil
}

func containsString(values []any, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
