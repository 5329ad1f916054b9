package notify

import (
	"context"
	"sync"
	"time"
)

// Recorder is an in-memory gateway for tests. It shows everything while
// Granted is set. Delay stalls every permission request, like a user who
// takes a while to answer the prompt.
type Recorder struct {
	mu       sync.Mutex
	Granted  bool
	Delay    time.Duration
	Requests int
	Shown    []Notification
	Closed   []string
}

// NewRecorder returns a recorder with permission granted.
func NewRecorder() *Recorder {
	return &Recorder{Granted: true}
}

func (r *Recorder) Supported() bool { return true }

func (r *Recorder) RequestPermission(context.Context, string) bool {
	time.Sleep(r.Delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests++
	return r.Granted
}

func (r *Recorder) Show(_ context.Context, _ string, n Notification) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Granted {
		return nil
	}
	if n.ID == "" {
		n.ID = n.Tag
	}
	r.Shown = append(r.Shown, n)
	return newHandle(n.ID, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.Closed = append(r.Closed, n.ID)
	})
}

// Notifications returns a copy of everything shown so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.Shown...)
}
