package sync

import (
	"github.com/yanun0323/logs"

	"alphaledger/internal/exchange"
	"alphaledger/internal/model"
)

// mapTrade converts one settled closed-PnL record into a SyncedTrade row.
// The venue reports the POSITION side: "Buy" is a long that was sold to
// exit, "Sell" a short bought back. Closed-PnL records carry no client
// order id, so the bot attribution comes from whose credentials fetched
// them.
func mapTrade(botID, source string, record exchange.ClosedPnL) model.SyncedTrade {
	closedAt := record.UpdatedAt
	if closedAt.IsZero() {
		closedAt = record.CreatedAt
	}

	return model.SyncedTrade{
		TradeID:     model.MakeTradeID(botID, record.Symbol, closedAt),
		BotID:       botID,
		Symbol:      record.Symbol,
		Side:        record.Side,
		Quantity:    record.Quantity,
		EntryPrice:  record.EntryPrice,
		ExitPrice:   record.ExitPrice,
		RealizedPnL: record.RealizedPnL,
		OpenFee:     record.OpenFee,
		CloseFee:    record.CloseFee,
		ExitOrderID: record.OrderID,
		ClosedAt:    closedAt,
		Source:      source,
	}
}

func mapTrades(botID, source string, records []exchange.ClosedPnL) []model.SyncedTrade {
	trades := make([]model.SyncedTrade, 0, len(records))
	for _, record := range records {
		if len(record.Symbol) == 0 || !record.Quantity.IsPositive() {
			logs.Errorf("skip malformed closed-pnl record: symbol %q, qty %s", record.Symbol, record.Quantity)
			continue
		}

		trades = append(trades, mapTrade(botID, source, record))
	}

	return trades
}
