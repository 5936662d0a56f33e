package prefs

import (
	"fmt"
	"time"

	"github.com/creastat/console"
)

// Namespace prefixes every preference key.
const Namespace = "ai-chat-console"

// Key returns the preference key for a user. An empty user id addresses the
// signed-out record.
func Key(userID string) string {
	if userID == "" {
		userID = "anonymous"
	}
	return Namespace + ":" + userID
}

// Docking is where the console panel is attached.
type Docking string

const (
	DockRight    Docking = "right"
	DockLeft     Docking = "left"
	DockBottom   Docking = "bottom"
	DockFloating Docking = "floating"
)

// Theme is the console color scheme.
type Theme string

const (
	ThemeSystem Theme = "system"
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
)

const (
	minScale = 0.5
	maxScale = 2.0
)

// Layout is the console window arrangement.
type Layout struct {
	Docking Docking `json:"docking"`
	Scale   float64 `json:"scale"`
	Theme   Theme   `json:"theme"`
}

// DefaultLayout is used when nothing has been saved.
func DefaultLayout() Layout {
	return Layout{Docking: DockRight, Scale: 1, Theme: ThemeSystem}
}

// Validate rejects values the console cannot render.
func (l Layout) Validate() error {
	switch l.Docking {
	case DockRight, DockLeft, DockBottom, DockFloating:
	default:
		return fmt.Errorf("%w: unknown docking %q", console.ErrValidation, l.Docking)
	}
	switch l.Theme {
	case ThemeSystem, ThemeLight, ThemeDark:
	default:
		return fmt.Errorf("%w: unknown theme %q", console.ErrValidation, l.Theme)
	}
	if l.Scale < minScale || l.Scale > maxScale {
		return fmt.Errorf("%w: scale %.2f outside [%.1f, %.1f]", console.ErrValidation, l.Scale, minScale, maxScale)
	}
	return nil
}

// Record is one persisted preference document.
//
// Version increases by one on every successful Update and is compared on
// write for optimistic locking.
type Record struct {
	Key       string       `json:"key"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Version   int64        `json:"version"`
	Layout    Layout       `json:"layout"`
	Mode      console.Mode `json:"mode"`
}

// clone returns a copy so stored records are never aliased by callers.
func (r *Record) clone() *Record {
	c := *r
	return &c
}
