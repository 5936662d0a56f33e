package prefs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creastat/console"
	"github.com/creastat/console/logging"
	"go.uber.org/zap"
)

const maxSaveAttempts = 3

// Preferences is the Mode/Layout state of the console, backed by a Store.
type Preferences struct {
	store  Store
	logger *logging.Logger

	mu      sync.RWMutex
	key     string
	current Record
}

// New creates a preference holder with default values.
func New(store Store, logger *logging.Logger) *Preferences {
	p := &Preferences{
		store:  store,
		logger: logging.OrNop(logger).Named("prefs"),
	}
	p.Reset()
	return p
}

func defaultRecord(key string) Record {
	return Record{Key: key, Layout: DefaultLayout(), Mode: console.ModeChat}
}

// Load reads the user's saved preferences. Missing records load as defaults
// without being written.
func (p *Preferences) Load(ctx context.Context, userID string) (Record, error) {
	key := Key(userID)
	rec, err := p.store.Get(ctx, key)
	if err != nil {
		return Record{}, fmt.Errorf("load preferences: %w", err)
	}

	current := defaultRecord(key)
	if rec != nil {
		current = *rec
		if current.Layout.Validate() != nil {
			p.logger.Warn(ctx, "stored layout invalid, using defaults", zap.String("key", key))
			current.Layout = DefaultLayout()
		}
		if !current.Mode.Valid() {
			current.Mode = console.ModeChat
		}
	}

	p.mu.Lock()
	p.key = key
	p.current = current
	p.mu.Unlock()
	return current, nil
}

// Layout returns the current layout.
func (p *Preferences) Layout() Layout {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Layout
}

// Mode returns the active mode.
func (p *Preferences) Mode() console.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Mode
}

// SaveLayout validates and persists a layout.
func (p *Preferences) SaveLayout(ctx context.Context, layout Layout) error {
	if err := layout.Validate(); err != nil {
		return err
	}
	return p.save(ctx, func(r *Record) { r.Layout = layout })
}

// SetMode validates and persists the active mode.
func (p *Preferences) SetMode(ctx context.Context, mode console.Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", console.ErrValidation, mode)
	}
	return p.save(ctx, func(r *Record) { r.Mode = mode })
}

// Reset returns to signed-out defaults without touching the store.
func (p *Preferences) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = Key("")
	p.current = defaultRecord(p.key)
}

func (p *Preferences) save(ctx context.Context, mutate func(*Record)) error {
	p.mu.RLock()
	key := p.key
	p.mu.RUnlock()

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		stored, err := p.store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}

		if stored == nil {
			rec := defaultRecord(key)
			mutate(&rec)
			if err := p.store.Create(ctx, &rec); err != nil {
				return fmt.Errorf("save preferences: %w", err)
			}
			p.commit(key, rec)
			return nil
		}

		mutate(stored)
		err = p.store.Update(ctx, stored)
		if errors.Is(err, console.ErrVersionConflict) {
			p.logger.Debug(ctx, "preference write conflict, retrying", zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
		p.commit(key, *stored)
		return nil
	}
	return fmt.Errorf("save preferences: %w", console.ErrVersionConflict)
}

func (p *Preferences) commit(key string, rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.key == key {
		p.current = rec
	}
}
