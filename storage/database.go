package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/windowbot/model"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Audit trail and model snapshots
// ═══════════════════════════════════════════════════════════════════════════════
//
// Postgres when the DSN is a postgres URL, SQLite otherwise. Nothing in the
// trading path reads from here except the startup matrix load when
// model.source is "db".
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrNoActiveMatrix means no matrix snapshot has been activated
var ErrNoActiveMatrix = errors.New("no active matrix snapshot")

// Models

// TradeAttempt is every order attempt, filled or not
type TradeAttempt struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	PositionID     string `gorm:"index"`
	MarketSlug     string
	TokenID        string
	Direction      string
	Side           string
	Strategy       string `gorm:"index"`
	OrderType      string
	OurProbability decimal.Decimal `gorm:"type:decimal(10,6)"`
	MarketPrice    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Edge           decimal.Decimal `gorm:"type:decimal(10,6)"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Shares         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Elapsed        int
	BTCPrice       decimal.Decimal `gorm:"type:decimal(20,2)"`
	BTCDelta       decimal.Decimal `gorm:"type:decimal(20,2)"`
	TimeBucket     int
	DeltaBucket    int
	Confidence     string
	Result         string `gorm:"index"` // filled, rejected, error
	Reason         string
	WindowStart    time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// Execution is a confirmed fill on either side of a position
type Execution struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	PositionID  string `gorm:"index"`
	OrderID     string
	Side        string
	TokenID     string
	Direction   string
	Strategy    string
	Price       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,6)"`
	WindowStart time.Time       `gorm:"index"`
	CreatedAt   time.Time
}

// PositionEvent is a lifecycle transition: OPEN, EXIT_PENDING, EXIT_FAILED,
// EXIT, SETTLE, DISCARD
type PositionEvent struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	PositionID  string `gorm:"index"`
	Event       string `gorm:"index"`
	Strategy    string
	Direction   string
	EntryPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExitPrice   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Shares      decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Bankroll    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason      string
	WindowStart time.Time `gorm:"index"`
	CreatedAt   time.Time
}

// WindowOutcome is the realized result of one window
type WindowOutcome struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	WindowStart    time.Time `gorm:"uniqueIndex"`
	WindowEnd      time.Time
	MarketSlug     string
	OpenPrice      decimal.Decimal `gorm:"type:decimal(20,2)"`
	ClosePrice     decimal.Decimal `gorm:"type:decimal(20,2)"`
	HighPrice      decimal.Decimal `gorm:"type:decimal(20,2)"`
	LowPrice       decimal.Decimal `gorm:"type:decimal(20,2)"`
	Outcome        string
	PriceChange    decimal.Decimal `gorm:"type:decimal(20,2)"`
	PriceChangePct decimal.Decimal `gorm:"type:decimal(10,6)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MatrixSnapshot stores a serialized probability matrix
type MatrixSnapshot struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	Name         string `gorm:"index"`
	Active       bool   `gorm:"index"`
	TotalWindows int
	Populated    int
	Payload      datatypes.JSON
	CreatedAt    time.Time
}

// Database wraps the gorm handle
type Database struct {
	db *gorm.DB
}

// Open connects and migrates. An empty DSN is an error; callers decide
// whether persistence is optional.
func Open(dsn string) (*Database, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty database DSN")
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var (
		db  *gorm.DB
		err error
	)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, err
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		log.Info().Str("path", dsn).Msg("💾 Database initialized (SQLite)")
	}

	d := &Database{db: db}
	if err := d.Migrate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Migrate creates or updates every table
func (d *Database) Migrate() error {
	if err := d.db.AutoMigrate(
		&TradeAttempt{},
		&Execution{},
		&PositionEvent{},
		&WindowOutcome{},
		&MatrixSnapshot{},
	); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Write persists one audit record
func (d *Database) Write(ctx context.Context, rec any) error {
	db := d.db.WithContext(ctx)
	switch r := rec.(type) {
	case *WindowOutcome:
		// a window can be resolved again after a restart; keep the latest
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "window_start"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"close_price", "high_price", "low_price", "outcome",
				"price_change", "price_change_pct", "updated_at",
			}),
		}).Create(r).Error
	case *TradeAttempt, *Execution, *PositionEvent:
		return db.Create(r).Error
	default:
		return fmt.Errorf("unsupported audit record %T", rec)
	}
}

// SaveMatrix stores a matrix snapshot, optionally making it the active one
func (d *Database) SaveMatrix(ctx context.Context, name string, m *model.Matrix, activate bool) (*MatrixSnapshot, error) {
	payload, err := m.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode matrix: %w", err)
	}
	snap := &MatrixSnapshot{
		Name:         name,
		Active:       activate,
		TotalWindows: m.TotalWindows,
		Populated:    m.PopulatedCells(),
		Payload:      datatypes.JSON(payload),
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if activate {
			if err := tx.Model(&MatrixSnapshot{}).Where("active = ?", true).Update("active", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(snap).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save matrix snapshot: %w", err)
	}
	log.Info().
		Str("name", name).
		Uint("id", snap.ID).
		Bool("active", activate).
		Int("populated", snap.Populated).
		Msg("💾 Matrix snapshot saved")
	return snap, nil
}

// LoadActiveMatrix decodes the newest active snapshot
func (d *Database) LoadActiveMatrix(ctx context.Context) (*model.Matrix, error) {
	var snap MatrixSnapshot
	err := d.db.WithContext(ctx).
		Where("active = ?", true).
		Order("created_at DESC, id DESC").
		First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveMatrix
	}
	if err != nil {
		return nil, fmt.Errorf("query matrix snapshot: %w", err)
	}
	m, err := model.DecodeMatrix(snap.Payload)
	if err != nil {
		return nil, fmt.Errorf("matrix snapshot %d: %w", snap.ID, err)
	}
	return m, nil
}

// Stats summarizes realized results for the status command
type Stats struct {
	Settled  int64
	Wins     int64
	Losses   int64
	TotalPnL decimal.Decimal
	Attempts int64
	Rejected int64
}

// Stats aggregates position events and attempts
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	db := d.db.WithContext(ctx)
	var s Stats
	closing := []string{"EXIT", "SETTLE"}

	if err := db.Model(&PositionEvent{}).Where("event IN ?", closing).Count(&s.Settled).Error; err != nil {
		return s, err
	}
	if err := db.Model(&PositionEvent{}).Where("event IN ? AND pnl > 0", closing).Count(&s.Wins).Error; err != nil {
		return s, err
	}
	if err := db.Model(&PositionEvent{}).Where("event IN ? AND pnl < 0", closing).Count(&s.Losses).Error; err != nil {
		return s, err
	}

	var events []PositionEvent
	if err := db.Select("pnl").Where("event IN ?", closing).Find(&events).Error; err != nil {
		return s, err
	}
	for _, e := range events {
		s.TotalPnL = s.TotalPnL.Add(e.PnL)
	}

	if err := db.Model(&TradeAttempt{}).Count(&s.Attempts).Error; err != nil {
		return s, err
	}
	if err := db.Model(&TradeAttempt{}).Where("result = ?", "rejected").Count(&s.Rejected).Error; err != nil {
		return s, err
	}
	return s, nil
}

// RecentEvents returns the newest position events first
func (d *Database) RecentEvents(ctx context.Context, limit int) ([]PositionEvent, error) {
	var events []PositionEvent
	err := d.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&events).Error
	return events, err
}

// Outcomes returns recorded window outcomes in time order
func (d *Database) Outcomes(ctx context.Context, since time.Time) ([]WindowOutcome, error) {
	var out []WindowOutcome
	err := d.db.WithContext(ctx).Where("window_start >= ?", since).Order("window_start").Find(&out).Error
	return out, err
}
