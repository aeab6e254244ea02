package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus tracks how much of a position entry is still open.
type EntryStatus string

const (
	EntryStatusOpen            EntryStatus = "open"
	EntryStatusPartiallyClosed EntryStatus = "partially_closed"
	EntryStatusClosed          EntryStatus = "closed"
)

func (s EntryStatus) IsAvailable() bool {
	switch s {
	case EntryStatusOpen, EntryStatusPartiallyClosed, EntryStatusClosed:
		return true
	}

	return false
}

// PositionEntry is one entry fill in the append-only ledger. Rows are never
// deleted; closing only decrements RemainingQuantity.
type PositionEntry struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement"`
	BotID             string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_entries_fill,priority:1"`
	Symbol            string          `gorm:"type:varchar(32);not null;uniqueIndex:idx_entries_fill,priority:2;index:idx_entries_symbol"`
	Side              Side            `gorm:"type:varchar(8);not null"`
	EntryPrice        decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	OriginalQuantity  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryTime         time.Time       `gorm:"not null;index"`
	EntryOrderID      string          `gorm:"type:varchar(64)"`
	EntryFillID       string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_entries_fill,priority:3"`
	Commission        decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Status            EntryStatus     `gorm:"type:varchar(20);not null;default:'open'"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

func (PositionEntry) TableName() string {
	return "position_entries"
}

// RefreshStatus derives Status from RemainingQuantity:
// zero remaining means closed, anything below the original means
// partially closed.
func (e *PositionEntry) RefreshStatus() {
	switch {
	case e.RemainingQuantity.IsZero():
		e.Status = EntryStatusClosed
	case e.RemainingQuantity.LessThan(e.OriginalQuantity):
		e.Status = EntryStatusPartiallyClosed
	default:
		e.Status = EntryStatusOpen
	}
}

// IsOpen reports whether the entry still holds exposure.
func (e *PositionEntry) IsOpen() bool {
	return e.Status != EntryStatusClosed
}

// CompletedTrade is one (entry, exit-portion) match emitted by a close walk.
// Immutable once written.
type CompletedTrade struct {
	ID                   uint64          `gorm:"primaryKey;autoIncrement"`
	BotID                string          `gorm:"type:varchar(64);not null;index:idx_trades_bot_symbol,priority:1"`
	Symbol               string          `gorm:"type:varchar(32);not null;index:idx_trades_bot_symbol,priority:2"`
	Side                 Side            `gorm:"type:varchar(8);not null"`
	EntryID              uint64          `gorm:"not null;index"`
	EntryFillID          string          `gorm:"type:varchar(64);not null"`
	MatchedQuantity      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice           decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExitPrice            decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryTime            time.Time       `gorm:"not null"`
	ExitTime             time.Time       `gorm:"not null;index"`
	ExitReason           Reason          `gorm:"type:varchar(32);not null"`
	ExitOrderID          string          `gorm:"type:varchar(64);index"`
	ExitFillID           string          `gorm:"type:varchar(64);index"`
	EntryCommissionShare decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ExitCommissionShare  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	NetPnL               decimal.Decimal `gorm:"column:net_pnl;type:numeric(30,10);not null"`
	PnLPct               decimal.Decimal `gorm:"column:pnl_pct;type:numeric(30,10);not null"`
	CreatedAt            time.Time       `gorm:"autoCreateTime"`
}

func (CompletedTrade) TableName() string {
	return "completed_trades"
}

// PositionSummary is the weighted-average view over open entries for one
// symbol. Always recomputed from the ledger, never stored as truth.
type PositionSummary struct {
	BotID         string          `json:"bot_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	OpenEntries   int             `json:"open_entries"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// IsFlat reports whether the symbol has no open exposure.
func (s PositionSummary) IsFlat() bool {
	return s.TotalQuantity.IsZero()
}

// SummarizeEntries folds open entries into a PositionSummary. Closed entries
// are skipped; an empty or fully closed slice yields a flat summary.
func SummarizeEntries(botID, symbol string, entries []PositionEntry) PositionSummary {
	summary := PositionSummary{
		BotID:         botID,
		Symbol:        symbol,
		TotalQuantity: decimal.Zero,
		AvgEntryPrice: decimal.Zero,
		UpdatedAt:     time.Now().UTC(),
	}

	weighted := decimal.Zero
	for i := range entries {
		e := &entries[i]
		if !e.IsOpen() || e.RemainingQuantity.IsZero() {
			continue
		}

		summary.Side = e.Side
		summary.TotalQuantity = summary.TotalQuantity.Add(e.RemainingQuantity)
		weighted = weighted.Add(e.RemainingQuantity.Mul(e.EntryPrice))
		summary.OpenEntries++
	}

	if summary.TotalQuantity.IsPositive() {
		summary.AvgEntryPrice = weighted.Div(summary.TotalQuantity)
	}

	return summary
}
