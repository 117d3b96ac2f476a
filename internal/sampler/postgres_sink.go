package sampler

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"l4book/internal/model"
)

const insertBatchSize = 200

// BookSample is one stored top-of-book sample.
type BookSample struct {
	ID        uint64              `gorm:"primaryKey;autoIncrement"`
	Coin      string              `gorm:"size:32;index:idx_book_samples_coin_time,priority:1"`
	SampledAt time.Time           `gorm:"index:idx_book_samples_coin_time,priority:2"`
	BidPx     decimal.NullDecimal `gorm:"type:numeric"`
	BidSz     decimal.NullDecimal `gorm:"type:numeric"`
	AskPx     decimal.NullDecimal `gorm:"type:numeric"`
	AskSz     decimal.NullDecimal `gorm:"type:numeric"`
	Spread    decimal.NullDecimal `gorm:"type:numeric"`
	SpreadBps decimal.NullDecimal `gorm:"type:numeric"`
	BidDepth  decimal.Decimal     `gorm:"type:numeric"`
	AskDepth  decimal.Decimal     `gorm:"type:numeric"`
	BidLevels int
	AskLevels int
	BidOrders int
	AskOrders int
	LastSeq   int64
}

func (BookSample) TableName() string {
	return "book_samples"
}

// PostgresSink inserts samples through gorm.
type PostgresSink struct {
	db *gorm.DB
}

// NewPostgresSink wraps db, creating the table first when migrate is set.
func NewPostgresSink(db *gorm.DB, migrate bool) (*PostgresSink, error) {
	if migrate {
		if err := db.AutoMigrate(&BookSample{}); err != nil {
			return nil, err
		}
	}
	return &PostgresSink{db: db}, nil
}

func (*PostgresSink) Name() string { return "postgres" }

func (p *PostgresSink) Write(ctx context.Context, samples []model.TopOfBook) error {
	if len(samples) == 0 {
		return nil
	}
	rows := make([]BookSample, len(samples))
	for i, s := range samples {
		rows[i] = toRow(s)
	}
	return p.db.WithContext(ctx).CreateInBatches(rows, insertBatchSize).Error
}

func toRow(s model.TopOfBook) BookSample {
	row := BookSample{
		Coin:      s.Coin,
		SampledAt: time.Unix(0, s.TsNano).UTC(),
		BidDepth:  s.Depth.BidDepth,
		AskDepth:  s.Depth.AskDepth,
		BidLevels: s.Depth.BidLevels,
		AskLevels: s.Depth.AskLevels,
		BidOrders: s.BidOrders,
		AskOrders: s.AskOrders,
		LastSeq:   int64(s.LastSeq),
	}
	if s.HasBid {
		row.BidPx = nullDec(s.BestBid.Price)
		row.BidSz = nullDec(s.BestBid.Size)
	}
	if s.HasAsk {
		row.AskPx = nullDec(s.BestAsk.Price)
		row.AskSz = nullDec(s.BestAsk.Size)
	}
	if s.HasSpread {
		row.Spread = nullDec(s.Spread)
		row.SpreadBps = nullDec(s.SpreadBps.Round(4))
	}
	return row
}

func nullDec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
