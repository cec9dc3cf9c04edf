package database

import (
	"context"
	"errors"
	"fmt"
	"robolike/internal/domain"
)

// Keys of the persisted schedule config. The ledger owns its own key.
const (
	KeyHashtag     = "hashtag"
	KeyWindowStart = "startTime"
	KeyWindowEnd   = "endTime"
)

// SaveScheduleConfig persists the last used hashtag and window bounds.
// The quota is process configuration and is not stored.
func (d *Database) SaveScheduleConfig(ctx context.Context, cfg domain.ScheduleConfig) error {
	return d.SetValues(ctx, map[string]string{
		KeyHashtag:     cfg.Hashtag,
		KeyWindowStart: cfg.WindowStart,
		KeyWindowEnd:   cfg.WindowEnd,
	})
}

// LoadScheduleConfig returns the persisted config, with default window bounds
// for keys never written.
func (d *Database) LoadScheduleConfig(ctx context.Context) (domain.ScheduleConfig, error) {
	var errs []error

	get := func(key string, fallback string) string {
		value, ok, err := d.GetValue(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("get %q: %w", key, err))
		}
		if !ok || value == "" {
			return fallback
		}

		return value
	}

	cfg := domain.ScheduleConfig{
		Hashtag:     get(KeyHashtag, ""),
		WindowStart: get(KeyWindowStart, domain.DefaultWindowStart),
		WindowEnd:   get(KeyWindowEnd, domain.DefaultWindowEnd),
	}

	return cfg, errors.Join(errs...)
}
