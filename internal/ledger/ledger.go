package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"robolike/internal/domain"
)

// StorageKey is the key-value slot holding the serialized ledger.
const StorageKey = "likes"

var ErrDuplicateRecord = errors.New("record with this id is already in the ledger")

type Store interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key string, value string) error
}

// Ledger is the bounded, append-only history of liked posts, ordered oldest
// first. Every Append is persisted before it returns.
type Ledger struct {
	mu        sync.RWMutex
	records   []domain.LikeRecord
	ids       map[string]struct{}
	maxStored int
	store     Store
	log       *slog.Logger
}

// Load reads the ledger from store. A missing, unreadable or corrupt slot
// yields an empty ledger.
func Load(ctx context.Context, store Store, maxStored int, log *slog.Logger) *Ledger {
	l := &Ledger{
		ids:       make(map[string]struct{}),
		maxStored: max(maxStored, 1),
		store:     store,
		log:       log,
	}

	raw, ok, err := store.GetValue(ctx, StorageKey)
	if err != nil {
		log.WarnContext(ctx, "Failed to read ledger, starting empty",
			"error", err,
			"key", StorageKey)

		return l
	}
	if !ok || raw == "" {
		log.InfoContext(ctx, "Ledger is empty",
			"key", StorageKey)

		return l
	}

	var records []domain.LikeRecord
	if err = json.Unmarshal([]byte(raw), &records); err != nil {
		log.WarnContext(ctx, "Ledger is corrupt, starting empty",
			"error", err,
			"key", StorageKey,
			"size", len(raw))

		return l
	}

	for _, r := range records {
		if r.ID == "" {
			continue
		}
		if _, dup := l.ids[r.ID]; dup {
			continue
		}

		l.ids[r.ID] = struct{}{}
		l.records = append(l.records, r)
	}
	l.trimLocked()

	log.InfoContext(ctx, "Ledger is loaded",
		"records", len(l.records),
		"maxStored", l.maxStored)

	return l
}

func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.ids[id]

	return ok
}

// RecordsForDay returns the records created on the calendar date of day, as
// seen in day's location.
func (l *Ledger) RecordsForDay(day time.Time) []domain.LikeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	y, m, d := day.Date()
	loc := day.Location()

	var out []domain.LikeRecord
	for _, r := range l.records {
		ry, rm, rd := r.CreatedAt.In(loc).Date()
		if ry == y && rm == m && rd == d {
			out = append(out, r)
		}
	}

	return out
}

// Append adds record as the most recent entry, evicting the oldest entries
// beyond the capacity, and persists the result. On error the ledger is left
// unchanged.
func (l *Ledger) Append(ctx context.Context, record domain.LikeRecord) error {
	if record.ID == "" {
		return errors.New("record id is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[record.ID]; ok {
		return fmt.Errorf("append %q: %w", record.ID, ErrDuplicateRecord)
	}

	next := make([]domain.LikeRecord, 0, len(l.records)+1)
	next = append(next, l.records...)
	next = append(next, record)

	var evicted []domain.LikeRecord
	if over := len(next) - l.maxStored; over > 0 {
		evicted = next[:over]
		next = next[over:]
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	if err = l.store.SetValue(ctx, StorageKey, string(raw)); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}

	for _, r := range evicted {
		delete(l.ids, r.ID)
	}
	l.ids[record.ID] = struct{}{}
	l.records = next

	return nil
}

// All returns the records newest first.
func (l *Ledger) All() []domain.LikeRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := slices.Clone(l.records)
	slices.Reverse(out)

	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.records)
}

func (l *Ledger) MaxStored() int {
	return l.maxStored
}

func (l *Ledger) trimLocked() {
	over := len(l.records) - l.maxStored
	if over <= 0 {
		return
	}

	for _, r := range l.records[:over] {
		delete(l.ids, r.ID)
	}
	l.records = slices.Clone(l.records[over:])
}
