package store

import (
	"context"
	"database/sql"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
)

// GetSetting fetches a key-value setting, returning ok=false if unset.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.reader.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindDatabase, "getting setting", err)
	}
	return value, true, nil
}

// SetSetting creates or overwrites a key-value setting.
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	return r.withWrite(ctx, func(ctx context.Context) error {
		_, err := r.writer.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return apperr.Wrap(apperr.KindDatabase, "setting setting", err)
		}
		return nil
	})
}
