package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade source labels.
const (
	TradeSourceStream   = "stream"
	TradeSourceRestSync = "rest_sync"
	TradeSourceBackfill = "backfill"
)

// SyncedTrade is one exchange closed-PnL record mirrored locally. TradeID is
// deterministic so repeated sync runs dedupe on insert.
type SyncedTrade struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement"`
	TradeID     string          `gorm:"type:varchar(128);not null;uniqueIndex"`
	BotID       string          `gorm:"type:varchar(64);not null;index:idx_synced_bot_symbol,priority:1"`
	Symbol      string          `gorm:"type:varchar(32);not null;index:idx_synced_bot_symbol,priority:2"`
	Side        Side            `gorm:"type:varchar(8);not null"`
	Quantity    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	ExitPrice   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null"`
	OpenFee     decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	CloseFee    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	ExitOrderID string          `gorm:"type:varchar(64)"`
	ExitReason  Reason          `gorm:"type:varchar(32)"`
	ClosedAt    time.Time       `gorm:"not null;index"`
	Source      string          `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
}

func (SyncedTrade) TableName() string {
	return "synced_trades"
}

// MakeTradeID builds the dedupe key "{bot}_{symbol}_{closed_at_millis}".
// Exchange closed-PnL rows carry no native id, but (bot, symbol, close time)
// identifies one uniquely.
func MakeTradeID(botID, symbol string, closedAt time.Time) string {
	var sb strings.Builder
	sb.Grow(len(botID) + len(symbol) + 16)
	sb.WriteString(botID)
	sb.WriteByte('_')
	sb.WriteString(symbol)
	sb.WriteByte('_')
	sb.WriteString(strconv.FormatInt(closedAt.UnixMilli(), 10))

	return sb.String()
}

// BotStatus is the per-bot heartbeat row.
type BotStatus struct {
	BotID     string          `gorm:"primaryKey;type:varchar(64)"`
	Status    string          `gorm:"type:varchar(32);not null"`
	Equity    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (BotStatus) TableName() string {
	return "bot_status"
}

// EquityPoint is one equity curve sample.
type EquityPoint struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	BotID      string          `gorm:"type:varchar(64);not null;index:idx_equity_bot_time,priority:1"`
	Equity     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RecordedAt time.Time       `gorm:"not null;index:idx_equity_bot_time,priority:2"`
}

func (EquityPoint) TableName() string {
	return "equity_points"
}
