package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"alphaledger/internal/model"
	"alphaledger/pkg/exception"
)

type gormStore struct {
	db *gorm.DB
}

// New wraps an opened gorm.DB as a Store.
func New(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.PositionEntry{},
		&model.CompletedTrade{},
		&model.SyncedTrade{},
		&model.BotStatus{},
		&model.EquityPoint{},
	)
}

func (s *gormStore) CreateEntry(ctx context.Context, entry *model.PositionEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("fill %s already recorded: %w", entry.EntryFillID, exception.ErrLedgerDuplicateFill)
		}

		return fmt.Errorf("create entry: %w", err)
	}

	return nil
}

func (s *gormStore) SaveEntry(ctx context.Context, entry *model.PositionEntry) error {
	if entry.ID == 0 {
		return fmt.Errorf("save entry without id: %w", exception.ErrInvalidArgument)
	}

	return s.db.WithContext(ctx).Save(entry).Error
}

func (s *gormStore) EntryByFillID(ctx context.Context, botID, symbol, fillID string) (*model.PositionEntry, error) {
	var entry model.PositionEntry
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND symbol = ? AND entry_fill_id = ?", botID, symbol, fillID).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return &entry, nil
}

func (s *gormStore) OpenEntries(ctx context.Context, botID, symbol string) ([]model.PositionEntry, error) {
	var entries []model.PositionEntry
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND symbol = ? AND status <> ?", botID, symbol, model.EntryStatusClosed).
		Order("entry_time ASC, entry_fill_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *gormStore) OpenSymbols(ctx context.Context, botID string) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&model.PositionEntry{}).
		Distinct("symbol").
		Where("bot_id = ? AND status <> ?", botID, model.EntryStatusClosed).
		Order("symbol ASC").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, err
	}

	return symbols, nil
}

func (s *gormStore) CreateTrades(ctx context.Context, trades []model.CompletedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Create(&trades).Error
}

func (s *gormStore) TradesByExitOrder(ctx context.Context, botID, exitOrderID string) ([]model.CompletedTrade, error) {
	if exitOrderID == "" {
		return nil, nil
	}

	var trades []model.CompletedTrade
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND exit_order_id = ?", botID, exitOrderID).
		Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}

	return trades, nil
}

func (s *gormStore) TradesByExitFill(ctx context.Context, botID, exitFillID string) ([]model.CompletedTrade, error) {
	if exitFillID == "" {
		return nil, nil
	}

	var trades []model.CompletedTrade
	err := s.db.WithContext(ctx).
		Where("bot_id = ? AND exit_fill_id = ?", botID, exitFillID).
		Order("id ASC").
		Find(&trades).Error
	if err != nil {
		return nil, err
	}

	return trades, nil
}

func (s *gormStore) TradesClosedSince(ctx context.Context, botID string, since time.Time) ([]model.CompletedTrade, error) {
	query := s.db.WithContext(ctx)
	if botID != "" {
		query = query.Where("bot_id = ?", botID)
	}
	if !since.IsZero() {
		query = query.Where("exit_time >= ?", since)
	}

	var trades []model.CompletedTrade
	err := query.Order("exit_time ASC, id ASC").Find(&trades).Error
	if err != nil {
		return nil, err
	}

	return trades, nil
}

func (s *gormStore) RecentTrades(ctx context.Context, botID string, limit int) ([]model.CompletedTrade, error) {
	if limit <= 0 {
		limit = 10
	}

	query := s.db.WithContext(ctx)
	if botID != "" {
		query = query.Where("bot_id = ?", botID)
	}

	var trades []model.CompletedTrade
	err := query.Order("exit_time DESC, id DESC").Limit(limit).Find(&trades).Error
	if err != nil {
		return nil, err
	}

	return trades, nil
}

func (s *gormStore) InsertSyncedTrades(ctx context.Context, trades []model.SyncedTrade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trade_id"}},
			DoNothing: true,
		}).
		Create(&trades)
	if res.Error != nil {
		return 0, res.Error
	}

	return int(res.RowsAffected), nil
}

func (s *gormStore) LatestSyncedTradeTime(ctx context.Context, botID string) (time.Time, error) {
	var trade model.SyncedTrade
	err := s.db.WithContext(ctx).
		Where("bot_id = ?", botID).
		Order("closed_at DESC").
		First(&trade).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, nil
		}

		return time.Time{}, err
	}

	return trade.ClosedAt, nil
}

func (s *gormStore) Heartbeat(ctx context.Context, botID, status string, equity decimal.Decimal) error {
	row := model.BotStatus{
		BotID:  botID,
		Status: status,
		Equity: equity,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bot_id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
}

func (s *gormStore) RecordEquity(ctx context.Context, botID string, equity decimal.Decimal, at time.Time) error {
	point := model.EquityPoint{
		BotID:      botID,
		Equity:     equity,
		RecordedAt: at,
	}

	return s.db.WithContext(ctx).Create(&point).Error
}

func (s *gormStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &gormStore{db: tx})
	})
}
