// Package analytics derives performance reports from the completed-trade
// history. Aggregation happens in Go over windowed fetches, so report
// numbers come out of the same decimal arithmetic that produced the
// ledger rows.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"alphaledger/internal/model"
	"alphaledger/internal/storage"
	"alphaledger/pkg/exception"
)

// Summary aggregates closed-trade performance over one window. Wins are
// trades with positive net P&L; break-even trades count as losses.
type Summary struct {
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	AvgPnL        decimal.Decimal `json:"avg_pnl"`
	BestTrade     decimal.Decimal `json:"best_trade"`
	WorstTrade    decimal.Decimal `json:"worst_trade"`
	TotalFees     decimal.Decimal `json:"total_fees"`
}

// DailyStat aggregates the closed trades of one UTC calendar day.
type DailyStat struct {
	Date   time.Time       `json:"date"`
	Trades int             `json:"trades"`
	Wins   int             `json:"wins"`
	Losses int             `json:"losses"`
	NetPnL decimal.Decimal `json:"net_pnl"`
	AvgPnL decimal.Decimal `json:"avg_pnl"`
}

// ReasonStat aggregates the closed trades sharing one exit reason.
type ReasonStat struct {
	Reason     model.Reason    `json:"reason"`
	Trades     int             `json:"trades"`
	Wins       int             `json:"wins"`
	Losses     int             `json:"losses"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	AvgPnL     decimal.Decimal `json:"avg_pnl"`
	AvgHolding time.Duration   `json:"avg_holding"`
}

// Summarize folds completed trades into a Summary. The win rate is a
// percentage rounded to two decimals; everything else keeps full
// precision.
func Summarize(trades []model.CompletedTrade) Summary {
	s := Summary{
		WinRate:    decimal.Zero,
		TotalPnL:   decimal.Zero,
		AvgPnL:     decimal.Zero,
		BestTrade:  decimal.Zero,
		WorstTrade: decimal.Zero,
		TotalFees:  decimal.Zero,
	}

	for i := range trades {
		t := &trades[i]
		s.TotalTrades++
		if t.NetPnL.IsPositive() {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}

		s.TotalPnL = s.TotalPnL.Add(t.NetPnL)
		s.TotalFees = s.TotalFees.Add(t.EntryCommissionShare).Add(t.ExitCommissionShare)

		if s.TotalTrades == 1 || t.NetPnL.GreaterThan(s.BestTrade) {
			s.BestTrade = t.NetPnL
		}
		if s.TotalTrades == 1 || t.NetPnL.LessThan(s.WorstTrade) {
			s.WorstTrade = t.NetPnL
		}
	}

	if s.TotalTrades > 0 {
		count := decimal.NewFromInt(int64(s.TotalTrades))
		s.AvgPnL = s.TotalPnL.Div(count)
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).
			Div(count).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}

	return s
}

// GroupDaily buckets trades by the UTC calendar day of their exit time,
// newest day first.
func GroupDaily(trades []model.CompletedTrade) []DailyStat {
	byDay := make(map[time.Time]*DailyStat)
	for i := range trades {
		t := &trades[i]
		day := t.ExitTime.UTC().Truncate(24 * time.Hour)
		stat, ok := byDay[day]
		if !ok {
			stat = &DailyStat{Date: day, NetPnL: decimal.Zero}
			byDay[day] = stat
		}

		stat.Trades++
		if t.NetPnL.IsPositive() {
			stat.Wins++
		} else {
			stat.Losses++
		}
		stat.NetPnL = stat.NetPnL.Add(t.NetPnL)
	}

	stats := make([]DailyStat, 0, len(byDay))
	for _, stat := range byDay {
		stat.AvgPnL = stat.NetPnL.Div(decimal.NewFromInt(int64(stat.Trades)))
		stats = append(stats, *stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Date.After(stats[j].Date)
	})

	return stats
}

// GroupByReason buckets trades by exit reason, biggest bucket first with
// the reason name breaking ties.
func GroupByReason(trades []model.CompletedTrade) []ReasonStat {
	byReason := make(map[model.Reason]*ReasonStat)
	holding := make(map[model.Reason]time.Duration)
	for i := range trades {
		t := &trades[i]
		stat, ok := byReason[t.ExitReason]
		if !ok {
			stat = &ReasonStat{Reason: t.ExitReason, NetPnL: decimal.Zero}
			byReason[t.ExitReason] = stat
		}

		stat.Trades++
		if t.NetPnL.IsPositive() {
			stat.Wins++
		} else {
			stat.Losses++
		}
		stat.NetPnL = stat.NetPnL.Add(t.NetPnL)
		holding[t.ExitReason] += t.ExitTime.Sub(t.EntryTime)
	}

	stats := make([]ReasonStat, 0, len(byReason))
	for reason, stat := range byReason {
		stat.AvgPnL = stat.NetPnL.Div(decimal.NewFromInt(int64(stat.Trades)))
		stat.AvgHolding = holding[reason] / time.Duration(stat.Trades)
		stats = append(stats, *stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Trades != stats[j].Trades {
			return stats[i].Trades > stats[j].Trades
		}

		return stats[i].Reason < stats[j].Reason
	})

	return stats
}

// Reporter serves reports over the trade store. Pass an empty bot id to
// a report method to span the whole portfolio.
type Reporter struct {
	store storage.Store
}

func New(store storage.Store) *Reporter {
	return &Reporter{store: store}
}

// Summary reports performance over the trailing window. A non-positive
// window spans all recorded history.
func (r *Reporter) Summary(ctx context.Context, botID string, window time.Duration) (Summary, error) {
	if r == nil || r.store == nil {
		return Summary{}, exception.ErrNilInstance
	}

	trades, err := r.store.TradesClosedSince(ctx, botID, windowStart(window))
	if err != nil {
		return Summary{}, err
	}

	return Summarize(trades), nil
}

// Daily reports per-day performance over the trailing days, newest day
// first. Non-positive days defaults to seven.
func (r *Reporter) Daily(ctx context.Context, botID string, days int) ([]DailyStat, error) {
	if r == nil || r.store == nil {
		return nil, exception.ErrNilInstance
	}

	if days <= 0 {
		days = 7
	}

	trades, err := r.store.TradesClosedSince(ctx, botID, time.Now().UTC().AddDate(0, 0, -days))
	if err != nil {
		return nil, err
	}

	return GroupDaily(trades), nil
}

// ReasonBreakdown reports per-exit-reason performance over the trailing
// window. A non-positive window spans all recorded history.
func (r *Reporter) ReasonBreakdown(ctx context.Context, botID string, window time.Duration) ([]ReasonStat, error) {
	if r == nil || r.store == nil {
		return nil, exception.ErrNilInstance
	}

	trades, err := r.store.TradesClosedSince(ctx, botID, windowStart(window))
	if err != nil {
		return nil, err
	}

	return GroupByReason(trades), nil
}

// Recent returns the newest completed trades, newest first.
func (r *Reporter) Recent(ctx context.Context, botID string, limit int) ([]model.CompletedTrade, error) {
	if r == nil || r.store == nil {
		return nil, exception.ErrNilInstance
	}

	return r.store.RecentTrades(ctx, botID, limit)
}

func windowStart(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}

	return time.Now().UTC().Add(-window)
}
