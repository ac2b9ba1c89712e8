// Package notify derives transient, self-dismissing notifications from
// the accepted update stream, one per update. Dismissal is purely a
// display concern; nothing here feeds back into the metric store.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/teamoflifebox/erp-analytics/pkg/logger"
	"github.com/teamoflifebox/erp-analytics/pkg/metrics"
)

const (
	// DefaultDuration is how long a toast stays up on its own.
	DefaultDuration = 5 * time.Second

	// DefaultStagger is added per already-visible toast so that bursts
	// of updates do not expire on top of each other.
	DefaultStagger = time.Second
)

// Toast is one visible notification.
type Toast struct {
	ID        string
	Update    metrics.Update
	Message   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithDuration overrides the base display duration.
func WithDuration(d time.Duration) ProjectorOption {
	return func(p *Projector) { p.duration = d }
}

// WithStagger overrides the per-toast stagger increment.
func WithStagger(d time.Duration) ProjectorOption {
	return func(p *Projector) { p.stagger = d }
}

// WithOnChange registers a callback invoked with the visible toasts
// after every append or dismissal.
func WithOnChange(fn func([]Toast)) ProjectorOption {
	return func(p *Projector) { p.onChange = fn }
}

// WithProjectorLogger sets the projector logger.
func WithProjectorLogger(log logger.Logger) ProjectorOption {
	return func(p *Projector) { p.log = logger.OrNop(log) }
}

// Projector renders exactly one toast per observed update and expires it.
type Projector struct {
	duration time.Duration
	stagger  time.Duration
	onChange func([]Toast)
	log      logger.Logger

	mu     sync.Mutex
	order  []string
	toasts map[string]Toast
	timers map[string]*time.Timer
}

// NewProjector creates a projector with the default timings.
func NewProjector(opts ...ProjectorOption) *Projector {
	p := &Projector{
		duration: DefaultDuration,
		stagger:  DefaultStagger,
		log:      logger.Nop{},
		toasts:   make(map[string]Toast),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe appends a toast for the update and schedules its dismissal.
// The display duration grows by one stagger increment per toast already
// visible, so near-simultaneous updates do not vanish at the same moment.
func (p *Projector) Observe(u metrics.Update) {
	p.mu.Lock()

	now := time.Now()
	ttl := p.duration + time.Duration(len(p.order))*p.stagger
	toast := Toast{
		ID:        u.ID,
		Update:    u,
		Message:   Render(u),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if _, exists := p.toasts[u.ID]; exists {
		// The feed redelivered an update we are already showing.
		p.mu.Unlock()
		p.log.Debug("duplicate toast suppressed", "id", u.ID)
		return
	}

	p.order = append(p.order, u.ID)
	p.toasts[u.ID] = toast
	p.timers[u.ID] = time.AfterFunc(ttl, func() {
		p.Dismiss(u.ID)
	})
	active := p.activeLocked()
	p.mu.Unlock()

	p.notifyChange(active)
}

// Dismiss removes a toast, cancelling its pending expiry so a manual
// close and the auto-dismiss cannot race into a double removal.
// It is a no-op for ids that are no longer visible.
func (p *Projector) Dismiss(id string) {
	p.mu.Lock()

	if _, ok := p.toasts[id]; !ok {
		p.mu.Unlock()
		return
	}

	if timer := p.timers[id]; timer != nil {
		timer.Stop()
	}
	delete(p.timers, id)
	delete(p.toasts, id)
	for i, known := range p.order {
		if known == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	active := p.activeLocked()
	p.mu.Unlock()

	p.notifyChange(active)
}

// Active returns the visible toasts in arrival order.
func (p *Projector) Active() []Toast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked()
}

// Close cancels every pending expiry timer and clears all visible
// toasts, typically at session teardown.
func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, timer := range p.timers {
		timer.Stop()
		delete(p.timers, id)
	}
	p.order = nil
	p.toasts = make(map[string]Toast)
}

func (p *Projector) activeLocked() []Toast {
	out := make([]Toast, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.toasts[id])
	}
	return out
}

// notifyChange reports a view captured in the same critical section as
// the mutation that produced it, so concurrent dismissals cannot hand
// the callback someone else's state.
func (p *Projector) notifyChange(active []Toast) {
	if p.onChange == nil {
		return
	}
	p.onChange(active)
}

// Render formats the user-facing message for one update.
func Render(u metrics.Update) string {
	author := u.AuthorName
	if author == "" {
		author = u.AuthorID
	}

	msg := fmt.Sprintf("%s/%s updated to %g", u.Type, u.Name, u.New)
	if u.Department != "" {
		msg = fmt.Sprintf("%s (%s)", msg, u.Department)
	}
	if u.Change != nil {
		msg = fmt.Sprintf("%s, %+.1f%%", msg, *u.Change)
	}
	if author != "" {
		msg = fmt.Sprintf("%s by %s", msg, author)
	}
	return msg
}
