// Package store keeps local state that outlives one process: a journal of
// submitted transactions and the per-key lock that keeps two processes from
// drawing nonces for the same api key.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/specialjp/lighter-ts-sub000/internal/confirm"
	"github.com/specialjp/lighter-ts-sub000/internal/core"
	"github.com/specialjp/lighter-ts-sub000/internal/tx"
)

const statusPending = "pending"

// TxEntry is one journal row.
type TxEntry struct {
	Hash         string `gorm:"primaryKey"`
	TxType       uint8
	AccountIndex int64 `gorm:"index:idx_tx_entries_key"`
	APIKeyIndex  uint8 `gorm:"index:idx_tx_entries_key"`
	Nonce        int64
	TxInfo       string
	Status       string `gorm:"index"`
	BlockHeight  int64
	// TimedOutAt is set when a confirmation wait gave up. The row stays
	// pending since the transaction may still land.
	TimedOutAt  *time.Time
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenJournal opens (creating if needed) the sqlite journal at path.
func OpenJournal(path string, log *slog.Logger) (*Journal, error) {
	if path == "" {
		return nil, &core.ConfigError{Field: "journal.path", Err: errors.New("is empty")}
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&TxEntry{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db, logger: log, now: time.Now}, nil
}

func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// TxSubmitted records a transaction the venue accepted.
func (j *Journal) TxSubmitted(ctx context.Context, hash string, t tx.Tx, txInfo string) error {
	now := j.now().UTC()
	owner := t.Owner()
	entry := TxEntry{
		Hash:         hash,
		TxType:       uint8(t.Type()),
		AccountIndex: owner.AccountIndex,
		APIKeyIndex:  owner.APIKeyIndex,
		Nonce:        t.NonceValue(),
		TxInfo:       txInfo,
		Status:       statusPending,
		SubmittedAt:  now,
		UpdatedAt:    now,
	}
	return j.db.WithContext(ctx).Save(&entry).Error
}

// TxFinal stores the outcome of a confirmation wait. It satisfies
// confirm.Observer, so failures are logged rather than returned. A timed out
// wait only stamps TimedOutAt and leaves the entry pending.
func (j *Journal) TxFinal(ctx context.Context, rec core.TxRecord, state confirm.State) {
	now := j.now().UTC()
	status := state.String()
	updates := map[string]any{
		"status":       status,
		"block_height": rec.BlockHeight,
		"updated_at":   now,
	}
	var timedOutAt *time.Time
	if state == confirm.StateTimedOut {
		status = statusPending
		timedOutAt = &now
		updates = map[string]any{"timed_out_at": now, "updated_at": now}
	}
	res := j.db.WithContext(ctx).Model(&TxEntry{}).Where("hash = ?", rec.Hash).Updates(updates)
	if res.Error != nil {
		j.logger.Warn("journal update failed", "event", "journal_update_failed", "hash", rec.Hash, "err", res.Error)
		return
	}
	if res.RowsAffected == 0 {
		// Waits on hashes this process did not submit still get a row.
		entry := TxEntry{
			Hash:        rec.Hash,
			TxType:      uint8(rec.Type),
			Status:      status,
			BlockHeight: rec.BlockHeight,
			TimedOutAt:  timedOutAt,
			SubmittedAt: rec.CreatedAt,
			UpdatedAt:   now,
		}
		if err := j.db.WithContext(ctx).Create(&entry).Error; err != nil {
			j.logger.Warn("journal insert failed", "event", "journal_update_failed", "hash", rec.Hash, "err", err)
		}
	}
}

func (j *Journal) Get(ctx context.Context, hash string) (TxEntry, error) {
	var entry TxEntry
	err := j.db.WithContext(ctx).First(&entry, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TxEntry{}, fmt.Errorf("journal %s: %w", hash, core.ErrNotFound)
	}
	return entry, err
}

// Pending lists entries of one key still waiting for a final status, timed
// out waits included, oldest first.
func (j *Journal) Pending(ctx context.Context, accountIndex int64, apiKeyIndex uint8) ([]TxEntry, error) {
	var entries []TxEntry
	err := j.db.WithContext(ctx).
		Where("account_index = ? AND api_key_index = ? AND status = ?", accountIndex, apiKeyIndex, statusPending).
		Order("nonce asc").
		Find(&entries).Error
	return entries, err
}
