// Package monitor runs the per-user scrape loop: acquire a browser session,
// bootstrap it, then repeatedly open the account's story, extract viewers
// and aggregate them until stopped.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/story-monitor/internal/browser"
	"github.com/pauljones0/story-monitor/internal/metrics"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/notifier"
	"github.com/pauljones0/story-monitor/internal/util"
)

var (
	// ErrSetup means no usable session could be prepared. It is terminal.
	ErrSetup = errors.New("monitor setup failed")
	// ErrNavigation and ErrExtraction fail one cycle only.
	ErrNavigation = errors.New("navigation failed")
	ErrExtraction = errors.New("extraction failed")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("monitor already started")
)

// State is the lifecycle phase of a Monitor.
type State int32

const (
	Idle State = iota
	Initializing
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Extractor reads story pages.
type Extractor interface {
	OpenStory(ctx context.Context, sess browser.Session) (bool, error)
	Extract(ctx context.Context, sess browser.Session, ownHandle string) (models.Extraction, error)
}

// Aggregator persists extractions.
type Aggregator interface {
	Apply(ctx context.Context, account models.Account, date string, ext models.Extraction) (models.ApplyResult, error)
}

// Options holds the loop timings. Settle delays are fixed waits that are not
// interrupted by Stop.
type Options struct {
	PlatformBaseURL  string
	CheckInterval    time.Duration
	RetryBackoff     time.Duration
	NavigationSettle time.Duration
	BootstrapSettle  time.Duration
	LaunchRetries    int
	LaunchBackoff    time.Duration
	// NavigationRate is the minimum gap between navigations; zero disables
	// throttling.
	NavigationRate time.Duration
}

// Deps are the collaborators of a Monitor. Notifier and Metrics may be nil.
type Deps struct {
	Launcher   browser.Launcher
	Extractor  Extractor
	Aggregator Aggregator
	Notifier   notifier.Notifier
	Metrics    metrics.Recorder
}

type Monitor struct {
	userID  string
	account models.Account
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	state    atomic.Int32
	stopping atomic.Bool
	stopCh   chan struct{}
	mu       sync.Mutex
	// cancel aborts setup only; a running cycle always finishes.
	cancel context.CancelFunc
	err    error
	done   chan struct{}
}

func New(userID string, account models.Account, deps Deps, opts Options) *Monitor {
	if deps.Metrics == nil {
		deps.Metrics = metrics.Noop{}
	}
	limit := rate.Inf
	if opts.NavigationRate > 0 {
		limit = rate.Every(opts.NavigationRate)
	}
	return &Monitor{
		userID:  userID,
		account: account,
		deps:    deps,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.With("user", userID, "handle", account.Handle),
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Done is closed once Run has returned.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// Err reports the setup failure that ended the monitor, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Stop asks the monitor to finish. It does not wait and may be called any
// number of times, before or during Run. A cycle in progress completes; the
// monitor exits at the next sleep or cycle boundary.
func (m *Monitor) Stop() {
	if m.stopping.Swap(true) {
		return
	}
	close(m.stopCh)
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.logger.Info("Stop requested")
}

// Run drives the monitor until Stop is called or ctx is cancelled. It returns
// nil on a requested stop and an ErrSetup error when no session could be
// prepared. Cancelling ctx interrupts work in progress; Stop does not.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(Idle), int32(Initializing)) {
		return ErrAlreadyStarted
	}
	defer close(m.done)
	defer m.state.Store(int32(Stopped))

	setupCtx, cancelSetup := context.WithCancel(ctx)
	defer cancelSetup()
	m.mu.Lock()
	m.cancel = cancelSetup
	m.mu.Unlock()
	if m.stopping.Load() {
		return nil
	}

	m.logger.Info("Starting monitor")
	sess, err := m.launch(setupCtx)
	if err != nil {
		return m.setupFailed(setupCtx, err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			m.logger.Warn("Failed to close browser session", "error", err)
		}
	}()

	if err := m.bootstrap(setupCtx, sess); err != nil {
		return m.setupFailed(setupCtx, err)
	}
	m.mu.Lock()
	m.cancel = nil
	m.mu.Unlock()

	m.state.Store(int32(Active))
	m.logger.Info("Monitor active", "interval", m.opts.CheckInterval)

	for {
		if m.stopping.Load() || ctx.Err() != nil {
			m.logger.Info("Monitor stopped")
			return nil
		}
		wait := m.cycle(ctx, sess)
		if !m.sleep(ctx, wait) {
			m.logger.Info("Monitor stopped")
			return nil
		}
	}
}

func (m *Monitor) launch(ctx context.Context) (browser.Session, error) {
	var sess browser.Session
	err := util.RetryWithBackoff(ctx, m.opts.LaunchRetries, m.opts.LaunchBackoff, func(attempt int) error {
		s, err := m.deps.Launcher.Launch(ctx)
		if err != nil {
			m.logger.Warn("Failed to launch browser session", "attempt", attempt+1, "error", err)
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (m *Monitor) bootstrap(ctx context.Context, sess browser.Session) error {
	if err := sess.Navigate(ctx, m.opts.PlatformBaseURL); err != nil {
		return fmt.Errorf("bootstrap navigation: %w", err)
	}
	time.Sleep(m.opts.BootstrapSettle)
	return nil
}

// setupFailed records a setup failure. A failure caused by Stop is not one.
func (m *Monitor) setupFailed(ctx context.Context, cause error) error {
	if m.stopping.Load() || ctx.Err() != nil {
		m.logger.Info("Monitor stopped during setup")
		return nil
	}
	err := fmt.Errorf("%w: %w", ErrSetup, cause)
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.logger.Error("Monitor could not start", "error", err)
	return err
}

// cycle runs one scrape and returns how long to wait before the next one.
func (m *Monitor) cycle(ctx context.Context, sess browser.Session) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Recovered from panic in monitor cycle", "panic", r)
			m.deps.Metrics.CycleCompleted(metrics.OutcomePanic)
			wait = m.opts.RetryBackoff
		}
	}()

	if err := m.limiter.Wait(ctx); err != nil {
		return 0
	}

	profileURL := strings.TrimSuffix(m.opts.PlatformBaseURL, "/") + "/" + m.account.Handle + "/"
	if err := sess.Navigate(ctx, profileURL); err != nil {
		return m.cycleFailed(ctx, fmt.Errorf("%w: %w", ErrNavigation, err), metrics.OutcomeNavigationError)
	}
	time.Sleep(m.opts.NavigationSettle)

	opened, err := m.deps.Extractor.OpenStory(ctx, sess)
	if err != nil {
		return m.cycleFailed(ctx, fmt.Errorf("%w: %w", ErrNavigation, err), metrics.OutcomeNavigationError)
	}
	if !opened {
		m.logger.Debug("No active story")
		m.deps.Metrics.CycleCompleted(metrics.OutcomeNoStory)
		return m.opts.CheckInterval
	}

	ext, err := m.deps.Extractor.Extract(ctx, sess, m.account.Handle)
	if err != nil {
		return m.cycleFailed(ctx, fmt.Errorf("%w: %w", ErrExtraction, err), metrics.OutcomeExtractionError)
	}
	if ext.Empty() {
		m.logger.Debug("Story has no viewers yet")
		m.deps.Metrics.CycleCompleted(metrics.OutcomeNoViewers)
		return m.opts.CheckInterval
	}

	date := m.now().Format(models.DateLayout)
	started := time.Now()
	result, err := m.deps.Aggregator.Apply(ctx, m.account, date, ext)
	if err != nil {
		m.logger.Error("Failed to aggregate story", "date", date, "viewers", len(ext.Viewers), "error", err)
		m.deps.Metrics.CycleCompleted(metrics.OutcomeAggregationError)
		return m.opts.CheckInterval
	}
	m.deps.Metrics.ObserveAggregation(time.Since(started), result.NewViews, result.NewLikes)
	m.deps.Metrics.CycleCompleted(metrics.OutcomeAggregated)

	if result.HasActivity() && m.deps.Notifier != nil {
		if err := m.deps.Notifier.Notify(ctx, m.account, result); err != nil {
			m.logger.Warn("Failed to send digest", "date", date, "error", err)
		}
	}
	return m.opts.CheckInterval
}

func (m *Monitor) cycleFailed(ctx context.Context, err error, outcome string) time.Duration {
	if ctx.Err() != nil {
		return 0
	}
	m.logger.Warn("Monitor cycle failed", "error", err, "retry_in", m.opts.RetryBackoff)
	m.deps.Metrics.CycleCompleted(outcome)
	return m.opts.RetryBackoff
}

// sleep waits d and reports false if the monitor was stopped meanwhile.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !m.stopping.Load() && ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.stopCh:
		return false
	case <-timer.C:
		return !m.stopping.Load()
	}
}
