package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/riftlabs/marketcore/internal/market"
)

// barRow is the gorm-mapped row for one OHLCV bar. Prices and volume are
// stored as decimal.Decimal text columns rather than float64 so that
// repeated upserts of the same (asset, timestamp) never accumulate
// binary-float rounding drift — grounded on the teacher's use of
// shopspring/decimal for money-bearing fields in its portfolio/risk
// packages, carried here to the persistence boundary.
type barRow struct {
	AssetId   string `gorm:"primaryKey"`
	Timestamp int64  `gorm:"primaryKey"`
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	FetchedAt time.Time
}

func (barRow) TableName() string { return "ohlcv_bars" }

func toRow(b market.OHLCVBar) barRow {
	return barRow{
		AssetId:   string(b.AssetId),
		Timestamp: b.Timestamp,
		Open:      decimal.NewFromFloat(b.Open).String(),
		High:      decimal.NewFromFloat(b.High).String(),
		Low:       decimal.NewFromFloat(b.Low).String(),
		Close:     decimal.NewFromFloat(b.Close).String(),
		Volume:    decimal.NewFromFloat(b.Volume).String(),
		FetchedAt: b.FetchedAt,
	}
}

func fromRow(r barRow) (market.OHLCVBar, error) {
	open, err := decimal.NewFromString(r.Open)
	if err != nil {
		return market.OHLCVBar{}, fmt.Errorf("ohlcv_repository: bad open for %s@%d: %w", r.AssetId, r.Timestamp, err)
	}
	high, err := decimal.NewFromString(r.High)
	if err != nil {
		return market.OHLCVBar{}, err
	}
	low, err := decimal.NewFromString(r.Low)
	if err != nil {
		return market.OHLCVBar{}, err
	}
	cls, err := decimal.NewFromString(r.Close)
	if err != nil {
		return market.OHLCVBar{}, err
	}
	vol, err := decimal.NewFromString(r.Volume)
	if err != nil {
		return market.OHLCVBar{}, err
	}
	o, _ := open.Float64()
	h, _ := high.Float64()
	l, _ := low.Float64()
	c, _ := cls.Float64()
	v, _ := vol.Float64()
	return market.OHLCVBar{
		AssetId:   market.AssetId(r.AssetId),
		Timestamp: r.Timestamp,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		FetchedAt: r.FetchedAt,
	}, nil
}

// OHLCVRepository is a MarketDataRepository backed by sqlite via gorm.
// Grounded on the teacher's gorm dependency (present in go.mod but
// unwired); wired here as the bar-persistence boundary spec.md §6.4
// leaves as an external collaborator.
type OHLCVRepository struct {
	db *gorm.DB
}

// NewOHLCVRepository opens (creating if absent) the sqlite database at
// path and migrates the bars table.
func NewOHLCVRepository(path string) (*OHLCVRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("ohlcv_repository: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&barRow{}); err != nil {
		return nil, fmt.Errorf("ohlcv_repository: migrate: %w", err)
	}
	return &OHLCVRepository{db: db}, nil
}

// UpsertBars idempotently inserts or updates bars keyed on (assetId,
// timestamp), satisfying market.MarketDataRepository.
func (r *OHLCVRepository) UpsertBars(ctx context.Context, bars []market.OHLCVBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		rows[i] = toRow(b)
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "asset_id"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "fetched_at"}),
	}).Create(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("ohlcv_repository: upsert: %w", err)
	}
	return len(rows), nil
}

// GetSnapshot loads the bars for ids within window and assembles a
// MarketSnapshot taken at now.
func (r *OHLCVRepository) GetSnapshot(ctx context.Context, ids []market.AssetId, window market.Window) (market.MarketSnapshot, error) {
	snap := market.MarketSnapshot{
		TakenAt: time.Now(),
		Bars:    make(map[market.AssetId][]market.OHLCVBar, len(ids)),
		Macro:   map[string][]market.MacroPoint{},
	}
	for _, id := range ids {
		q := r.db.WithContext(ctx).Where("asset_id = ?", string(id))
		if !window.Since.IsZero() {
			q = q.Where("timestamp >= ?", window.Since.UnixMilli())
		}
		if !window.Until.IsZero() {
			q = q.Where("timestamp <= ?", window.Until.UnixMilli())
		}
		var rows []barRow
		if err := q.Order("timestamp asc").Find(&rows).Error; err != nil {
			return market.MarketSnapshot{}, fmt.Errorf("ohlcv_repository: query %s: %w", id, err)
		}
		bars := make([]market.OHLCVBar, 0, len(rows))
		for _, row := range rows {
			b, err := fromRow(row)
			if err != nil {
				continue
			}
			bars = append(bars, b)
		}
		snap.Bars[id] = bars
	}
	return snap, nil
}
