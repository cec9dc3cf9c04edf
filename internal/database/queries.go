package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetValue returns the value stored under key. ok is false when the key is absent.
func (d *Database) GetValue(ctx context.Context, key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, errors.New("key is empty")
	}

	query := "select value from kv where key = ?"

	var value string
	err := d.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to execute query: %w", err)
	}

	return value, true, nil
}

func (d *Database) SetValue(ctx context.Context, key string, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is empty")
	}

	query := `insert into kv (key, value, updated_at)
	values (?, ?, current_timestamp)
	on conflict (key) do update
	set value = excluded.value, updated_at = excluded.updated_at`

	_, err := d.db.ExecContext(ctx, query, key, value)

	return err
}

func (d *Database) SetValues(ctx context.Context, values map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `insert into kv (key, value, updated_at)
	values (?, ?, current_timestamp)
	on conflict (key) do update
	set value = excluded.value, updated_at = excluded.updated_at`

	for key, value := range values {
		if _, err = tx.ExecContext(ctx, query, key, value); err != nil {
			return errors.Join(fmt.Errorf("failed to set %q: %w", key, err), tx.Rollback())
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
