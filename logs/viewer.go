// Package logs loads system log rows for administrators and filters,
// expands and exports them locally.
package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/access"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/supabase"
	"go.uber.org/zap"
)

// DefaultLimit is the number of rows fetched when no limit is given.
const DefaultLimit = 100

// Tab selects which levels are shown.
type Tab string

const (
	TabAll   Tab = "all"
	TabDebug Tab = Tab(console.LogDebug)
	TabInfo  Tab = Tab(console.LogInfo)
	TabWarn  Tab = Tab(console.LogWarn)
	TabError Tab = Tab(console.LogError)
)

// Valid reports whether t is a known tab.
func (t Tab) Valid() bool {
	switch t {
	case TabAll, TabDebug, TabInfo, TabWarn, TabError:
		return true
	}
	return false
}

// Viewer holds the fetched log rows and the local view state.
type Viewer struct {
	table    supabase.LogTable
	checker  access.Checker
	notifier notify.Notifier
	logger   *logging.Logger

	mu       sync.RWMutex
	entries  []console.LogEntry
	tab      Tab
	search   string
	expanded string
}

// Option configures a Viewer.
type Option func(*Viewer)

// WithNotifier sets where user-facing failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(v *Viewer) { v.notifier = n }
}

// WithLogger sets the viewer logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Viewer) { v.logger = l }
}

// NewViewer creates a Viewer showing all levels.
func NewViewer(table supabase.LogTable, checker access.Checker, opts ...Option) *Viewer {
	v := &Viewer{
		table:    table,
		checker:  checker,
		notifier: notify.Nop{},
		tab:      TabAll,
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logging.OrNop(v.logger).Named("logs")
	return v
}

// Fetch loads the newest limit rows. Prior rows are kept when the call fails.
func (v *Viewer) Fetch(ctx context.Context, limit int) error {
	if err := v.checker.Require(ctx, access.CapViewLogs); err != nil {
		return err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	entries, err := v.table.ListLogs(ctx, supabase.LogFilter{Limit: limit})
	if err != nil {
		v.logger.Error(ctx, "fetch logs failed", zap.Error(err))
		notify.Error(ctx, v.notifier, "Could not load logs", err)
		return fmt.Errorf("fetch logs: %w", err)
	}

	v.mu.Lock()
	v.entries = entries
	if v.expanded != "" && !slices.ContainsFunc(entries, func(e console.LogEntry) bool { return e.ID == v.expanded }) {
		v.expanded = ""
	}
	v.mu.Unlock()
	v.logger.Debug(ctx, "logs fetched", zap.Int("count", len(entries)))
	return nil
}

// SetActiveTab switches the level filter.
func (v *Viewer) SetActiveTab(tab Tab) error {
	if !tab.Valid() {
		return fmt.Errorf("%w: unknown log tab %q", console.ErrValidation, tab)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tab = tab
	return nil
}

// ActiveTab returns the level filter.
func (v *Viewer) ActiveTab() Tab {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tab
}

// SetSearch sets the case-insensitive text filter applied to message and source.
func (v *Viewer) SetSearch(q string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.search = strings.TrimSpace(q)
}

// Entries returns every fetched row.
func (v *Viewer) Entries() []console.LogEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.entries)
}

// Filtered returns the rows matching the active tab and search, in fetch order.
func (v *Viewer) Filtered() []console.LogEntry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.filteredLocked()
}

func (v *Viewer) filteredLocked() []console.LogEntry {
	q := strings.ToLower(v.search)
	out := make([]console.LogEntry, 0, len(v.entries))
	for _, e := range v.entries {
		if v.tab != TabAll && Tab(e.Level) != v.tab {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Message), q) &&
			!strings.Contains(strings.ToLower(e.Source), q) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ToggleExpandLog expands id, or collapses it when it is already expanded,
// and returns the resulting expanded id. Two calls with the same id restore
// the prior state.
func (v *Viewer) ToggleExpandLog(id string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.expanded == id {
		v.expanded = ""
	} else {
		v.expanded = id
	}
	return v.expanded
}

// ExpandedLogID returns the expanded row id, or "" when none is expanded.
func (v *Viewer) ExpandedLogID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.expanded
}

// Export writes the filtered rows to w as an indented JSON array.
func (v *Viewer) Export(w io.Writer) error {
	v.mu.RLock()
	rows := v.filteredLocked()
	v.mu.RUnlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("export logs: %w", err)
	}
	return nil
}

// ExportFileName returns the download name for an export taken at t.
func ExportFileName(t time.Time) string {
	return "system-logs-" + t.UTC().Format("2006-01-02T15-04-05") + ".json"
}

// Reset drops fetched rows and view state.
func (v *Viewer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries = nil
	v.tab = TabAll
	v.search = ""
	v.expanded = ""
}
