// Package expiry decides when pantry items need an expiration reminder.
package expiry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/notify"
	"github.com/erazemk/shramba/internal/store"
)

// Defaults.
const (
	DefaultWindowDays = 7
	DefaultRetention  = 30 * 24 * time.Hour
	RestockGrace      = 24 * time.Hour
	WarningDays       = 3
)

// DateLayout is the layout of expiration dates.
const DateLayout = "2006-01-02"

// Status is the freshness of an item.
type Status string

// Item freshness states.
const (
	StatusFresh   Status = "fresh"
	StatusWarning Status = "warning"
	StatusExpired Status = "expired"
	StatusUnknown Status = "unknown"
)

// Store is the part of the item store the engine needs.
type Store interface {
	Pantry(ctx context.Context, namespace string) ([]model.PantryItem, error)
	ReminderLog(ctx context.Context, namespace string) ([]model.ReminderEntry, error)
	SetReminderLog(ctx context.Context, namespace string, log []model.ReminderEntry) error
}

// Engine fires at most one reminder per item, expiration date and day.
// Runs against the same namespace are serialized, so several open tabs and
// the check endpoint can share one engine.
type Engine struct {
	Store      Store
	Gateway    notify.Gateway
	Now        func() time.Time
	WindowDays int
	Retention  time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// lock takes the namespace's lock and returns its unlock. It gives up with
// false when ctx ends first.
func (e *Engine) lock(ctx context.Context, namespace string) (func(), bool) {
	e.mu.Lock()
	if e.locks == nil {
		e.locks = make(map[string]chan struct{})
	}
	sem, ok := e.locks[namespace]
	if !ok {
		sem = make(chan struct{}, 1)
		e.locks[namespace] = sem
	}
	e.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, true
	case <-ctx.Done():
		return nil, false
	}
}

// reminderLog reads the log. A malformed log starts over empty; false means
// the backend failed and the log must not be written.
func (e *Engine) reminderLog(ctx context.Context, namespace string) ([]model.ReminderEntry, bool) {
	log, err := e.Store.ReminderLog(ctx, namespace)
	switch {
	case errors.Is(err, store.ErrMalformed):
		slog.Warn("malformed reminder log, starting over", "namespace", namespace, "error", err)
		return []model.ReminderEntry{}, true
	case err != nil:
		slog.Error("reading reminder log", "namespace", namespace, "error", err)
		return nil, false
	}
	return log, true
}

// New creates an engine with default settings.
func New(st Store, gateway notify.Gateway) *Engine {
	return &Engine{
		Store:      st,
		Gateway:    gateway,
		Now:        time.Now,
		WindowDays: DefaultWindowDays,
		Retention:  DefaultRetention,
	}
}

// ParseDate parses an expiration date. Full timestamps are truncated to
// their date part.
func ParseDate(s string) (time.Time, bool) {
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// DaysLeft returns the number of calendar days from now until the
// expiration date. Time of day is ignored.
func DaysLeft(expirationDate string, now time.Time) (int, bool) {
	exp, ok := ParseDate(expirationDate)
	if !ok {
		return 0, false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(exp.Sub(today).Hours() / 24), true
}

// StatusOf classifies an item and returns its days left.
func StatusOf(item model.PantryItem, now time.Time) (Status, int) {
	if item.ExpirationDate == "" {
		return StatusUnknown, 0
	}
	days, ok := DaysLeft(item.ExpirationDate, now)
	switch {
	case !ok:
		return StatusUnknown, 0
	case days < 0:
		return StatusExpired, days
	case days <= WarningDays:
		return StatusWarning, days
	default:
		return StatusFresh, days
	}
}

// Expiring is an item inside the reminder window.
type Expiring struct {
	model.PantryItem
	DaysLeft int `json:"daysLeft"`
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) inWindow(days int) bool {
	window := e.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	return days >= 0 && days <= window
}

// Select returns the items of pantry inside the reminder window, soonest
// first.
func (e *Engine) Select(pantry []model.PantryItem) []Expiring {
	now := e.now()
	out := []Expiring{}
	for _, item := range pantry {
		if item.ExpirationDate == "" {
			continue
		}
		days, ok := DaysLeft(item.ExpirationDate, now)
		if !ok || !e.inWindow(days) {
			continue
		}
		out = append(out, Expiring{PantryItem: item, DaysLeft: days})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DaysLeft < out[j].DaysLeft })
	return out
}

// ExpiringItems returns the namespace's items inside the reminder window.
// It has no side effects.
func (e *Engine) ExpiringItems(ctx context.Context, namespace string) []Expiring {
	pantry, err := e.Store.Pantry(ctx, namespace)
	if err != nil {
		slog.Warn("reading pantry for expiring items", "namespace", namespace, "error", err)
		return []Expiring{}
	}
	return e.Select(pantry)
}

func restocked(item model.PantryItem, now time.Time) bool {
	if item.AddedAt.IsZero() {
		return false
	}
	return now.Sub(item.AddedAt) <= RestockGrace
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// CheckReminders sends due reminders for a namespace and records them in
// the reminder log. It returns the number of reminders recorded.
func (e *Engine) CheckReminders(ctx context.Context, namespace string) int {
	unlock, ok := e.lock(ctx, namespace)
	if !ok {
		return 0
	}
	defer unlock()

	pantry, err := e.Store.Pantry(ctx, namespace)
	if err != nil && !errors.Is(err, store.ErrMalformed) {
		slog.Warn("reading pantry for reminders", "namespace", namespace, "error", err)
		return 0
	}
	log, ok := e.reminderLog(ctx, namespace)
	if !ok {
		return 0
	}

	now := e.now()
	var due []Expiring
	for _, exp := range e.Select(pantry) {
		if restocked(exp.PantryItem, now) {
			continue
		}
		if i := logIndex(log, exp.PantryItem); i >= 0 && sameDay(now, log[i].LastReminderDate) {
			continue
		}
		due = append(due, exp)
	}
	if len(due) == 0 {
		return 0
	}

	if e.Gateway != nil {
		e.Gateway.RequestPermission(ctx, namespace)
	}

	for _, exp := range due {
		item := exp.PantryItem
		if e.Gateway != nil {
			e.Gateway.Show(ctx, namespace, notify.ExpirationReminder(item, exp.DaysLeft))
		}

		entry := model.ReminderEntry{
			ItemID:           item.ID,
			ItemName:         item.Name,
			ExpirationDate:   item.ExpirationDate,
			LastReminderDate: now,
		}
		if i := logIndex(log, item); i >= 0 {
			log[i] = entry
		} else {
			log = append(log, entry)
		}
		slog.Info("expiration reminder", "namespace", namespace, "item", item.Name, "days_left", exp.DaysLeft)
	}

	// The reminders are out; record them even if the permission wait used
	// up ctx.
	if err := e.Store.SetReminderLog(context.WithoutCancel(ctx), namespace, log); err != nil {
		slog.Error("saving reminder log", "namespace", namespace, "error", err)
	}
	return len(due)
}

func logIndex(log []model.ReminderEntry, item model.PantryItem) int {
	for i, entry := range log {
		if entry.ItemID == item.ID && entry.ExpirationDate == item.ExpirationDate {
			return i
		}
	}
	return -1
}

// CleanupLog drops log entries older than the retention period and returns
// how many were removed.
func (e *Engine) CleanupLog(ctx context.Context, namespace string) int {
	unlock, ok := e.lock(ctx, namespace)
	if !ok {
		return 0
	}
	defer unlock()

	log, ok := e.reminderLog(ctx, namespace)
	if !ok {
		return 0
	}

	retention := e.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := e.now().Add(-retention)

	kept := log[:0:0]
	for _, entry := range log {
		if entry.LastReminderDate.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	removed := len(log) - len(kept)
	if removed == 0 {
		return 0
	}
	if err := e.Store.SetReminderLog(ctx, namespace, kept); err != nil {
		slog.Error("saving reminder log", "namespace", namespace, "error", err)
		return 0
	}
	return removed
}
