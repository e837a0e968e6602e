// Package connwatch tracks the reachability of upstream services (the
// LLM provider, the MQTT broker) so the gateway can report them and
// the agent can start before they are reachable.
//
// A [Watcher] probes its service with exponential backoff until the
// first success, then keeps polling at a fixed interval and records
// every up/down transition.
package connwatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/santosobot/santoso/internal/events"
)

// ProbeFunc checks a service. A nil error means the service is up.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the wait after the first failed probe.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// Multiplier grows the delay after each failure.
	Multiplier float64
	// Jitter is the fraction of each delay randomised (0 disables).
	Jitter float64
	// PollInterval is the steady-state interval once the service has
	// been seen up.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns the timings used for remote APIs.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		Jitter:       0.1,
		PollInterval: time.Minute,
		ProbeTimeout: 10 * time.Second,
	}
}

// next returns the delay that follows d.
func (b BackoffConfig) next(d time.Duration) time.Duration {
	if d <= 0 {
		return b.InitialDelay
	}
	n := time.Duration(float64(d) * b.Multiplier)
	if n > b.MaxDelay {
		n = b.MaxDelay
	}
	return n
}

func (b BackoffConfig) jittered(d time.Duration) time.Duration {
	if b.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// Config describes one watched service.
type Config struct {
	Name    string
	Probe   ProbeFunc
	Backoff BackoffConfig
	// OnReady runs on every transition to up.
	OnReady func()
	// OnDown runs on every transition to down.
	OnDown func(err error)
	Logger *slog.Logger
	// Events receives service_ready and service_down events.
	Events *events.Bus
}

// Status is a point-in-time view of a watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastError string    `json:"last_error,omitempty"`
	LastCheck time.Time `json:"last_check,omitzero"`
	// Since is when the current state began.
	Since    time.Time `json:"since,omitzero"`
	Failures int       `json:"consecutive_failures,omitempty"`
}

// Watcher probes one service in the background.
type Watcher struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	ready     bool
	seen      bool // at least one probe has completed
	lastErr   error
	lastCheck time.Time
	since     time.Time
	failures  int

	readyCh   chan struct{}
	readyOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// newWatcher fills in defaults without starting the goroutine.
func newWatcher(cfg Config) *Watcher {
	def := DefaultBackoffConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = def.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = def.MaxDelay
	}
	if cfg.Backoff.Multiplier < 1 {
		cfg.Backoff.Multiplier = def.Multiplier
	}
	if cfg.Backoff.PollInterval <= 0 {
		cfg.Backoff.PollInterval = def.PollInterval
	}
	if cfg.Backoff.ProbeTimeout <= 0 {
		cfg.Backoff.ProbeTimeout = def.ProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		logger:  logger.With("service", cfg.Name),
		readyCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ready
}

// Err returns the last probe error, nil when up or never probed.
func (w *Watcher) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastErr
}

// Status returns a snapshot of the service state.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := Status{
		Name:      w.cfg.Name,
		Ready:     w.ready,
		LastCheck: w.lastCheck,
		Since:     w.since,
		Failures:  w.failures,
	}
	if w.lastErr != nil {
		st.LastError = w.lastErr.Error()
	}
	return st
}

// WaitReady blocks until the service has been up once or ctx ends.
func (w *Watcher) WaitReady(ctx context.Context) error {
	select {
	case <-w.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the watcher and waits for its goroutine.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// loop backs off until the first success, then polls. A failure after
// that point drops back into backoff so a flapping service is retried
// quickly.
func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var delay time.Duration
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		if err == nil {
			delay = 0
			wait = w.cfg.Backoff.PollInterval
		} else {
			delay = w.cfg.Backoff.next(delay)
			wait = w.cfg.Backoff.jittered(delay)
			w.logger.Debug("probe failed, retrying", "error", err, "retry_in", wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// check runs one probe and records the result.
func (w *Watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	err := w.cfg.Probe(pctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	w.record(err)
	return err
}

func (w *Watcher) record(err error) {
	now := time.Now()

	w.mu.Lock()
	changed := !w.seen || w.ready != (err == nil)
	w.seen = true
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = now
	if err != nil {
		w.failures++
	} else {
		w.failures = 0
	}
	if changed {
		w.since = now
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	if err == nil {
		w.logger.Info("service ready")
		w.readyOnce.Do(func() { close(w.readyCh) })
		w.cfg.Events.Emit(events.SourceWatch, events.KindServiceReady, map[string]any{
			"service": w.cfg.Name,
		})
		if w.cfg.OnReady != nil {
			w.cfg.OnReady()
		}
		return
	}
	w.logger.Warn("service unreachable", "error", err)
	w.cfg.Events.Emit(events.SourceWatch, events.KindServiceDown, map[string]any{
		"service": w.cfg.Name,
		"error":   err.Error(),
	})
	if w.cfg.OnDown != nil {
		w.cfg.OnDown(err)
	}
}

// Manager owns the set of watchers.
type Manager struct {
	logger *slog.Logger
	events *events.Bus

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewManager creates a manager. Watchers inherit logger and bus when
// their own config leaves them unset.
func NewManager(logger *slog.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "connwatch"),
		events:   bus,
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts a watcher for cfg. A watcher already registered under
// the same name is stopped and replaced.
func (m *Manager) Watch(ctx context.Context, cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	if cfg.Events == nil {
		cfg.Events = m.events
	}
	w := newWatcher(cfg)

	m.mu.Lock()
	old := m.watchers[cfg.Name]
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	w.start(ctx)
	return w
}

// Get returns the named watcher, or nil.
func (m *Manager) Get(name string) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchers[name]
}

// Statuses returns every service's status sorted by name.
func (m *Manager) Statuses() []Status {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop stops every watcher.
func (m *Manager) Stop() {
	m.mu.Lock()
	ws := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		ws = append(ws, w)
	}
	m.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
}

// Once runs probe a single time with the given timeout. The status
// command uses it where a background watcher would be overkill.
func Once(ctx context.Context, name string, timeout time.Duration, probe ProbeFunc) Status {
	w := newWatcher(Config{
		Name:    name,
		Probe:   probe,
		Backoff: BackoffConfig{ProbeTimeout: timeout},
		Logger:  slog.New(slog.DiscardHandler),
	})
	w.check(ctx)
	close(w.done)
	return w.Status()
}
