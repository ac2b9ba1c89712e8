package analytics

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/teamoflifebox/erp-analytics/pkg/config"
	"github.com/teamoflifebox/erp-analytics/pkg/connector"
	"github.com/teamoflifebox/erp-analytics/pkg/feed"
	"github.com/teamoflifebox/erp-analytics/pkg/logger"
	"github.com/teamoflifebox/erp-analytics/pkg/metrics"
	"github.com/teamoflifebox/erp-analytics/pkg/notify"
	"github.com/teamoflifebox/erp-analytics/pkg/telemetry"
)

var (
	// ErrAlreadyStarted is returned by Start while a session is active.
	ErrAlreadyStarted = errors.New("analytics: session already started")

	// ErrNotStarted is returned by SendUpdate without an active session.
	ErrNotStarted = errors.New("analytics: no active session")
)

// Identity is who the session synchronizes for. Authorship of outbound
// updates is always stamped from it.
type Identity struct {
	ID   string
	Name string
	Role string
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger shared by the syncer and the components it
// constructs.
func WithLogger(log logger.Logger) Option {
	return func(s *Syncer) { s.log = logger.OrNop(log) }
}

// WithTelemetry wires prometheus counters through all components.
func WithTelemetry(tel *telemetry.Metrics) Option {
	return func(s *Syncer) { s.tel = tel }
}

// WithProjector replaces the default notification projector. Nil
// disables notification projection entirely.
func WithProjector(p *notify.Projector) Option {
	return func(s *Syncer) {
		s.proj = p
		s.projSet = true
	}
}

// Syncer is the per-session synchronization controller. It owns the
// metric store exclusively: no two sessions may be attached at once, and
// teardown unregisters inbound handlers before the channel closes so a
// late event can never fire into the next session's store.
type Syncer struct {
	cfg    config.Config
	client feed.Client
	store  *metrics.Store
	conn   *connector.Connector
	proj   *notify.Projector
	log    logger.Logger
	tel    *telemetry.Metrics

	projSet bool

	mu       sync.Mutex
	started  bool
	gen      uint64
	identity Identity
	reg      *connector.Registration
	cancel   context.CancelFunc
}

// New builds a syncer and its session-scoped store, connector, and
// projector from the configuration.
func New(cfg config.Config, client feed.Client, opts ...Option) *Syncer {
	s := &Syncer{
		cfg:    cfg,
		client: client,
		log:    logger.Nop{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.store = metrics.NewStore(
		metrics.WithRecentCapacity(cfg.RecentCapacity),
		metrics.WithLogger(s.log),
		metrics.WithTelemetry(s.tel),
	)

	s.conn = connector.New(client, cfg.Channel,
		connector.WithRetryer(&connector.ExponentialBackoff{
			InitialDelay: cfg.ReconnectInitialDelay,
			MaxDelay:     cfg.ReconnectMaxDelay,
			Multiplier:   2.0,
			MaxAttempts:  cfg.ReconnectMaxAttempts,
			JitterFactor: 0.3,
		}),
		connector.WithCheckInterval(cfg.CheckInterval),
		connector.WithPollInterval(cfg.PollInterval),
		connector.WithPollLimit(cfg.PollLimit),
		connector.WithLogger(s.log),
		connector.WithTelemetry(s.tel),
	)

	if !s.projSet {
		s.proj = notify.NewProjector(
			notify.WithDuration(cfg.ToastDuration),
			notify.WithStagger(cfg.ToastStagger),
			notify.WithProjectorLogger(s.log),
		)
	}

	return s
}

// Store exposes the session's metric store for read access.
func (s *Syncer) Store() *metrics.Store { return s.store }

// Connector exposes the realtime connector, mainly for observer
// registration by the surrounding application.
func (s *Syncer) Connector() *connector.Connector { return s.conn }

// Projector exposes the notification projector, or nil when disabled.
func (s *Syncer) Projector() *notify.Projector { return s.proj }

// Start begins a session: inbound handlers are registered, the cold-start
// hydration query runs concurrently with channel establishment, and the
// connector is started for the identity. An absent identity fails closed.
func (s *Syncer) Start(ctx context.Context, identity Identity) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.gen++
	gen := s.gen
	s.identity = identity
	sessionCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	reg := s.conn.Register(connector.Handlers{
		Record: s.handleRecord,
	})
	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()

	go s.hydrate(sessionCtx, gen)

	if err := s.conn.Connect(sessionCtx, identity.ID); err != nil {
		s.Stop()
		return err
	}

	s.log.Info("synchronization session started", "author_id", identity.ID, "role", identity.Role)
	return nil
}

// Stop tears the session down: handlers are unregistered first, the
// in-flight hydration query is cancelled, and only then is the channel
// disconnected.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.identity = Identity{}
	reg := s.reg
	s.reg = nil
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if reg != nil {
		reg.Unregister()
	}
	if cancel != nil {
		cancel()
	}
	s.conn.Disconnect()
	if s.proj != nil {
		s.proj.Close()
	}

	s.log.Info("synchronization session stopped")
}

// SendUpdate publishes an update through the connector. Authorship is
// stamped from the session identity; caller-supplied author fields are
// overwritten, never trusted. The update is not applied locally: the
// resulting insert round-trips through the inbound path, so the author's
// own view observes the same canonicalization as every other observer.
func (s *Syncer) SendUpdate(ctx context.Context, u metrics.Update) (bool, error) {
	s.mu.Lock()
	started := s.started
	identity := s.identity
	s.mu.Unlock()

	if !started {
		return false, ErrNotStarted
	}

	u.AuthorID = identity.ID
	u.AuthorName = identity.Name
	u.AuthorRole = identity.Role
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Change == nil {
		u.Change = metrics.ComputeChange(u.Previous, u.New)
	}

	return s.conn.Publish(ctx, updateToRecord(u))
}

func (s *Syncer) handleRecord(rec feed.Record) {
	u, err := normalizeRecord(rec)
	if err != nil {
		s.tel.IncMalformedDropped()
		s.log.Warn("malformed feed record dropped", "error", err)
		return
	}

	applied := s.store.Apply(u)
	if s.proj != nil {
		s.proj.Observe(applied)
	}
}

// hydrate bulk-loads the most recent history into the audit log. A late
// result is discarded when the session that issued it is no longer the
// current one, so it can never overwrite a newer session's hydration.
func (s *Syncer) hydrate(ctx context.Context, gen uint64) {
	if err := s.client.Connect(ctx); err != nil {
		if ctx.Err() == nil {
			s.log.Warn("hydration connect failed", "error", err)
		}
		return
	}

	records, err := s.client.QueryRecent(ctx, s.cfg.Channel, s.cfg.HydrateLimit)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("hydration query failed", "error", err)
		}
		return
	}

	updates := make([]metrics.Update, 0, len(records))
	for _, rec := range records {
		u, err := normalizeRecord(rec)
		if err != nil {
			s.tel.IncMalformedDropped()
			s.log.Warn("hydration record dropped", "error", err)
			continue
		}
		updates = append(updates, u)
	}

	s.mu.Lock()
	current := s.started && s.gen == gen
	s.mu.Unlock()
	if !current || ctx.Err() != nil {
		s.log.Debug("hydration result discarded after teardown")
		return
	}

	s.store.SetAuditLog(updates)
	s.log.Info("audit log hydrated", "records", len(updates))
}
