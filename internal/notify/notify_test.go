package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/erazemk/shramba/internal/model"
)

type fakeTransport struct {
	mu      sync.Mutex
	clients int
	sent    []any
	answer  model.Permission
	askErr  error
	asked   int
}

func (f *fakeTransport) Send(_ string, msg any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients == 0 {
		return 0
	}
	f.sent = append(f.sent, msg)
	return f.clients
}

func (f *fakeTransport) AskPermission(context.Context, string) (model.Permission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked++
	return f.answer, f.askErr
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.sent...)
}

type memPerms struct {
	mu sync.Mutex
	p  map[string]model.Permission
}

func (m *memPerms) Permission(_ context.Context, ns string) (model.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.p[ns]; ok {
		return p, nil
	}
	return model.PermissionDefault, nil
}

func (m *memPerms) SetPermission(_ context.Context, ns string, p model.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.p[ns] = p
	return nil
}

func newPerms(granted ...string) *memPerms {
	m := &memPerms{p: make(map[string]model.Permission)}
	for _, ns := range granted {
		m.p[ns] = model.PermissionGranted
	}
	return m
}

func TestLowStockMessage(t *testing.T) {
	n := LowStock("Milk", 3, "liters")
	if n.Body != "Milk is running low (3 liters remaining). Added to shopping list automatically." {
		t.Errorf("unexpected body %q", n.Body)
	}
	if n.Tag != "low-stock-Milk" || n.RequireInteraction || n.Timeout != AutoDismiss {
		t.Errorf("unexpected low stock notification: %+v", n)
	}
}

func TestExpirationReminderMessage(t *testing.T) {
	item := model.PantryItem{ID: "42", Name: "Yogurt"}
	tests := []struct {
		days int
		want string
	}{
		{0, "Yogurt expires today!"},
		{1, "Yogurt expires in 1 day"},
		{5, "Yogurt expires in 5 days"},
	}
	for _, tt := range tests {
		n := ExpirationReminder(item, tt.days)
		if n.Body != tt.want {
			t.Errorf("days=%d: expected %q, got %q", tt.days, tt.want, n.Body)
		}
		if !n.RequireInteraction || n.Tag != "expiry-42" {
			t.Errorf("days=%d: unexpected reminder %+v", tt.days, n)
		}
	}
}

func TestPushRequiresPermission(t *testing.T) {
	tr := &fakeTransport{clients: 1}
	p := NewPush(tr, newPerms())

	if h := p.Show(context.Background(), "u1", LowStock("Milk", 3, "liters")); h != nil {
		t.Error("expected nil handle without permission")
	}
	if len(tr.messages()) != 0 {
		t.Error("nothing must be sent without permission")
	}
}

func TestPushNoClientsIsNoop(t *testing.T) {
	p := NewPush(&fakeTransport{}, newPerms("u1"))
	if h := p.Show(context.Background(), "u1", LowStock("Milk", 3, "liters")); h != nil {
		t.Error("expected nil handle without connected clients")
	}
}

func TestPushAutoDismiss(t *testing.T) {
	tr := &fakeTransport{clients: 1}
	p := NewPush(tr, newPerms("u1"))

	n := LowStock("Milk", 3, "liters")
	n.Timeout = 20 * time.Millisecond
	h := p.Show(context.Background(), "u1", n)
	if h == nil {
		t.Fatal("expected handle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(tr.messages()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs := tr.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected show and dismiss, got %d messages", len(msgs))
	}
	if d, ok := msgs[1].(DismissMessage); !ok || d.ID != h.ID {
		t.Errorf("expected dismiss for %s, got %+v", h.ID, msgs[1])
	}

	h.Close()
	if len(tr.messages()) != 2 {
		t.Error("closing twice must not send a second dismiss")
	}
}

func TestPushStickyHasNoTimeout(t *testing.T) {
	tr := &fakeTransport{clients: 1}
	p := NewPush(tr, newPerms("u1"))

	p.Show(context.Background(), "u1", ExpirationReminder(model.PantryItem{ID: "1", Name: "Eggs"}, 2))
	msgs := tr.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	show := msgs[0].(ShowMessage)
	if show.TimeoutMs != 0 || !show.RequireInteraction {
		t.Errorf("expected sticky notification, got %+v", show)
	}
}

func TestPushSameTagReplaces(t *testing.T) {
	tr := &fakeTransport{clients: 1}
	p := NewPush(tr, newPerms("u1"))
	ctx := context.Background()

	first := p.Show(ctx, "u1", ExpirationReminder(model.PantryItem{ID: "1", Name: "Eggs"}, 2))
	p.Show(ctx, "u1", ExpirationReminder(model.PantryItem{ID: "1", Name: "Eggs"}, 1))

	msgs := tr.messages()
	if len(msgs) != 3 {
		t.Fatalf("expected show, dismiss, show; got %d messages", len(msgs))
	}
	if d, ok := msgs[1].(DismissMessage); !ok || d.ID != first.ID {
		t.Errorf("expected the first notification to be dismissed, got %+v", msgs[1])
	}
}

func TestPushConcurrentSameTagKeepsOne(t *testing.T) {
	tr := &fakeTransport{clients: 1}
	p := NewPush(tr, newPerms("u1"))
	ctx := context.Background()
	item := model.PantryItem{ID: "1", Name: "Eggs"}

	const n = 20
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles[i] = p.Show(ctx, "u1", ExpirationReminder(item, 2))
		}()
	}
	wg.Wait()

	shows, dismissed := 0, make(map[string]bool)
	for _, msg := range tr.messages() {
		switch m := msg.(type) {
		case ShowMessage:
			shows++
		case DismissMessage:
			dismissed[m.ID] = true
		}
	}
	if shows != n || len(dismissed) != n-1 {
		t.Fatalf("expected %d shows and %d dismissals, got %d and %d", n, n-1, shows, len(dismissed))
	}

	var visible []*Handle
	for _, h := range handles {
		if !dismissed[h.ID] {
			visible = append(visible, h)
		}
	}
	if len(visible) != 1 {
		t.Fatalf("expected one visible notification, got %d", len(visible))
	}
	p.mu.Lock()
	tracked := p.byTag["u1\x00"+ExpirationReminder(item, 2).Tag]
	p.mu.Unlock()
	if tracked != visible[0] {
		t.Error("the visible notification is not the tracked one")
	}
}

func TestPushRequestPermission(t *testing.T) {
	ctx := context.Background()

	tr := &fakeTransport{clients: 1, answer: model.PermissionGranted}
	perms := newPerms()
	p := NewPush(tr, perms)
	if !p.RequestPermission(ctx, "u1") {
		t.Error("expected permission to be granted")
	}
	if got, _ := perms.Permission(ctx, "u1"); got != model.PermissionGranted {
		t.Errorf("expected stored permission, got %q", got)
	}
	if !p.RequestPermission(ctx, "u1") || tr.asked != 1 {
		t.Errorf("expected stored answer to be reused, asked %d times", tr.asked)
	}

	failing := NewPush(&fakeTransport{askErr: errors.New("no clients")}, newPerms())
	if failing.RequestPermission(ctx, "u1") {
		t.Error("expected false when nobody answers")
	}

	if (Nop{}).RequestPermission(ctx, "u1") {
		t.Error("unsupported gateway must not grant")
	}
}

type fakeSender struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m...)
	return nil
}

func TestMailOnlySticky(t *testing.T) {
	sender := &fakeSender{}
	m := &Mail{
		Sender: sender,
		From:   "pantry@example.com",
		Address: func(context.Context, string) (string, bool) {
			return "cook@example.com", true
		},
	}
	ctx := context.Background()

	if h := m.Show(ctx, "u1", LowStock("Milk", 3, "liters")); h != nil {
		t.Error("transient alerts must not be mailed")
	}
	if h := m.Show(ctx, "u1", ExpirationReminder(model.PantryItem{ID: "1", Name: "Eggs"}, 0)); h == nil {
		t.Error("expected reminder to be mailed")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 mail, got %d", len(sender.sent))
	}
	if got := sender.sent[0].GetHeader("Subject"); len(got) != 1 || !strings.Contains(got[0], "Expiration") {
		t.Errorf("unexpected subject %v", got)
	}

	sender.err = errors.New("smtp down")
	if h := m.Show(ctx, "u1", ExpirationReminder(model.PantryItem{ID: "2", Name: "Ham"}, 1)); h != nil {
		t.Error("failed delivery must return nil")
	}
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	b.Granted = false
	m := Multi{a, b, Nop{}}

	if !m.Supported() {
		t.Error("expected multi to be supported")
	}
	h := m.Show(context.Background(), "u1", LowStock("Milk", 3, "liters"))
	if h == nil {
		t.Fatal("expected handle from the granted gateway")
	}
	h.Close()
	if len(a.Closed) != 1 {
		t.Errorf("expected close to reach the recorder, got %v", a.Closed)
	}
}
