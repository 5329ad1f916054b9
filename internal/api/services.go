package api

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/erazemk/shramba/internal/bus"
	"github.com/erazemk/shramba/internal/chat"
	"github.com/erazemk/shramba/internal/expiry"
	"github.com/erazemk/shramba/internal/lowstock"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/notify"
	"github.com/erazemk/shramba/internal/store"
)

// Options tune the engines behind the API.
type Options struct {
	LowStockThreshold float64
	ExpiryWindowDays  int
	Retention         time.Duration
	ReminderInterval  time.Duration
	CountersInterval  time.Duration
	// Completer answers chat messages. Nil disables the assistant.
	Completer chat.Completer
	// Mail is an extra gateway for reminders, usually notify.Mail.
	Mail notify.Gateway
	Now  func() time.Time
}

// Services bundles everything the handlers need.
type Services struct {
	DB        *sql.DB
	JWTSecret string
	Bus       *bus.Bus
	Items     *store.ItemStore
	Hub       *Hub
	Gateway   notify.Gateway
	Expiry    *expiry.Engine
	LowStock  *lowstock.Engine
	Chat      *chat.Service
	Now       func() time.Time

	ReminderInterval time.Duration
	CountersInterval time.Duration

	// mu serializes read-modify-write cycles on item collections.
	mu sync.Mutex
}

// NewServices wires the item store, change bus, event hub, notification
// gateways and engines on top of database.
func NewServices(database *sql.DB, jwtSecret string, opts Options) *Services {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	backend := store.NewSQLiteBackend(database)
	b := bus.New(backend)
	items := store.NewItemStore(backend, b)
	hub := NewHub(b)

	var gateway notify.Gateway = notify.NewPush(hub, items)
	if opts.Mail != nil && opts.Mail.Supported() {
		gateway = notify.Multi{gateway, opts.Mail}
	}

	exp := expiry.New(items, gateway)
	exp.Now = now
	if opts.ExpiryWindowDays > 0 {
		exp.WindowDays = opts.ExpiryWindowDays
	}
	if opts.Retention > 0 {
		exp.Retention = opts.Retention
	}

	low := lowstock.New(items, gateway)
	low.Now = now
	if opts.LowStockThreshold > 0 {
		low.Threshold = model.Quantity(opts.LowStockThreshold)
	}

	assistant := chat.NewService(items, opts.Completer)
	assistant.Now = now

	s := &Services{
		DB:               database,
		JWTSecret:        jwtSecret,
		Bus:              b,
		Items:            items,
		Hub:              hub,
		Gateway:          gateway,
		Expiry:           exp,
		LowStock:         low,
		Chat:             assistant,
		Now:              now,
		ReminderInterval: opts.ReminderInterval,
		CountersInterval: opts.CountersInterval,
	}
	b.Subscribe(s.refreshCounters)
	return s
}

// Counters are the dashboard figures.
type Counters struct {
	TotalItems       int `json:"totalItems"`
	ExpiringItems    int `json:"expiringItems"`
	ShoppingPending  int `json:"shoppingPending"`
	AutoAddedPending int `json:"autoAddedPending"`
}

// Counters computes the dashboard figures of a namespace.
func (s *Services) Counters(ctx context.Context, namespace string) Counters {
	pantry, err := s.Items.Pantry(ctx, namespace)
	if err != nil {
		slog.Warn("reading pantry for counters", "namespace", namespace, "error", err)
	}
	shopping, err := s.Items.Shopping(ctx, namespace)
	if err != nil {
		slog.Warn("reading shopping list for counters", "namespace", namespace, "error", err)
	}

	c := Counters{
		TotalItems:       len(pantry),
		ExpiringItems:    len(s.Expiry.Select(pantry)),
		AutoAddedPending: lowstock.AutoAddedPending(shopping),
	}
	for _, item := range shopping {
		if !item.Completed {
			c.ShoppingPending++
		}
	}
	return c
}

// refreshCounters pushes new counters whenever an item collection of a
// connected namespace changes.
func (s *Services) refreshCounters(e bus.Event) {
	switch e.Key {
	case store.KeyPantry, store.KeyShopping, store.LegacyKeyPantry:
	default:
		return
	}
	if s.Hub.Connected(e.Namespace) == 0 {
		return
	}
	s.Hub.Send(e.Namespace, countersMessage{
		Type:     TypeCounters,
		Counters: s.Counters(context.Background(), e.Namespace),
	})
}

// MailAddresses resolves a namespace to its owner's mail address.
func MailAddresses(db *sql.DB) notify.AddressFunc {
	return func(ctx context.Context, namespace string) (string, bool) {
		id, ok := store.UserIDFromNamespace(namespace)
		if !ok {
			return "", false
		}
		user, err := store.GetUser(ctx, db, id)
		if err != nil {
			slog.Warn("looking up mail address", "namespace", namespace, "error", err)
			return "", false
		}
		if user == nil || user.DeletedAt != nil || user.Email == "" {
			return "", false
		}
		return user.Email, true
	}
}

// SweepResult counts what a sweep removed.
type SweepResult struct {
	ReminderEntries int
	RevokedTokens   int64
}

// Sweep prunes the reminder log of every namespace and expired token
// revocations, then records when it ran.
func (s *Services) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	namespaces, err := s.Items.Backend().Namespaces(ctx)
	if err != nil {
		slog.Error("listing namespaces for sweep", "error", err)
	}
	for _, ns := range namespaces {
		res.ReminderEntries += s.Expiry.CleanupLog(ctx, ns)
	}

	now := s.Now()
	res.RevokedTokens, err = store.PurgeExpiredTokens(ctx, s.DB, now)
	if err != nil {
		slog.Error("purging revoked tokens", "error", err)
	}
	if err := store.SetSetting(ctx, s.DB, store.SettingLastSweep, now.UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("recording sweep time", "error", err)
	}
	return res
}
