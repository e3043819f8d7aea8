package model

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Loggable is satisfied by any row carrying an append-only log column.
type Loggable interface {
	LogText() string
	SetLogText(string)
}

const logTimeLayout = "Jan 02, 2006, 03:04:05 PM UTC"

// AppendToLog appends a formatted block to the row's log column inside a
// transaction, reloading the row first so two concurrent appenders never
// clobber each other's text. row must be a gorm model pointer with its
// primary key set, satisfying Loggable.
func AppendToLog(ctx context.Context, db *gorm.DB, row Loggable, entry string, desc string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Fresh read under the transaction: something else may have
		// committed a log line since this copy was loaded.
		if err := tx.First(row).Error; err != nil {
			return fmt.Errorf("reload for log append: %w", err)
		}
		row.SetLogText(row.LogText() + formatLogBlock(entry, desc))
		return tx.Save(row).Error
	})
}

// AppendJSONToLog marshals v and appends it, for webhook entries and
// provider responses.
func AppendJSONToLog(ctx context.Context, db *gorm.DB, row Loggable, v any, desc string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return AppendToLog(ctx, db, row, string(raw), desc)
}

// AppendLogLocal appends a formatted block to the in-memory copy only.
// For use inside the send state machine, which owns the row exclusively
// for the duration of the attempt and saves once at the end.
func AppendLogLocal(row Loggable, entry, desc string) {
	row.SetLogText(row.LogText() + formatLogBlock(entry, desc))
}

func formatLogBlock(entry, desc string) string {
	block := "##################\n"
	block += time.Now().UTC().Format(logTimeLayout) + "\n"
	if desc != "" {
		block += fmt.Sprintf("**%s**\n", desc)
	}
	block += entry
	block += "\n##################\n"
	return block
}
