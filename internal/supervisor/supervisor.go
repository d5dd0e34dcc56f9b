// Package supervisor keeps at most one running monitor per user.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pauljones0/story-monitor/internal/metrics"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/validator"
)

var (
	ErrAlreadyActive  = errors.New("monitor already active")
	ErrInvalidAccount = errors.New("invalid account")
	ErrShutdown       = errors.New("supervisor is shut down")
)

// Runner is the part of a monitor the supervisor drives.
type Runner interface {
	Run(ctx context.Context) error
	Stop()
}

// Factory builds the monitor for one user.
type Factory func(userID string, account models.Account) Runner

type Supervisor struct {
	factory   Factory
	validator *validator.Validator
	metrics   metrics.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	monitors map[string]Runner
	failures map[string]error
	closed   bool
}

func New(factory Factory, recorder metrics.Recorder) *Supervisor {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		factory:   factory,
		validator: validator.New(),
		metrics:   recorder,
		ctx:       ctx,
		cancel:    cancel,
		monitors:  make(map[string]Runner),
		failures:  make(map[string]error),
	}
}

// Start registers and launches a monitor for userID. It returns
// immediately; setup runs on the monitor's goroutine.
func (s *Supervisor) Start(userID string, account models.Account) error {
	if err := s.validator.ValidateStruct(account); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShutdown
	}
	if _, ok := s.monitors[userID]; ok {
		return ErrAlreadyActive
	}

	m := s.factory(userID, account)
	s.monitors[userID] = m
	delete(s.failures, userID)

	s.wg.Add(1)
	go s.run(userID, m)
	slog.Info("Monitor registered", "user", userID, "handle", account.Handle)
	return nil
}

func (s *Supervisor) run(userID string, m Runner) {
	defer s.wg.Done()
	s.metrics.MonitorStarted()
	defer s.metrics.MonitorStopped()

	err := m.Run(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	// A replacement may already be registered under the same user.
	if s.monitors[userID] != m {
		return
	}
	delete(s.monitors, userID)
	if err != nil {
		s.failures[userID] = err
		slog.Warn("Monitor ended with error", "user", userID, "error", err)
	}
}

// Stop signals the user's monitor and deregisters it without waiting. It
// reports whether one was registered.
func (s *Supervisor) Stop(userID string) bool {
	s.mu.Lock()
	m, ok := s.monitors[userID]
	delete(s.monitors, userID)
	s.mu.Unlock()

	if !ok {
		return false
	}
	m.Stop()
	slog.Info("Monitor stop requested", "user", userID)
	return true
}

func (s *Supervisor) IsActive(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.monitors[userID]
	return ok
}

// LastFailure returns the error that ended the user's previous monitor, or
// nil. It is cleared by the next Start.
func (s *Supervisor) LastFailure(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[userID]
}

// Active returns the number of registered monitors.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// Shutdown stops every monitor and waits for them to return or for ctx to
// expire. Start fails afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	running := make([]Runner, 0, len(s.monitors))
	for userID, m := range s.monitors {
		running = append(running, m)
		delete(s.monitors, userID)
	}
	s.mu.Unlock()

	slog.Info("Stopping monitors", "count", len(running))
	for _, m := range running {
		m.Stop()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitors: %w", ctx.Err())
	}
}
