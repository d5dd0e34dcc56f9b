// Package browser abstracts the browser-automation driver behind a small
// capability interface so the scraper and monitor never touch a concrete
// driver.
package browser

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoElement is returned when an element lookup finds nothing it can use.
var ErrNoElement = errors.New("element not found")

// Element is an opaque handle to a node owned by the Session that returned it.
type Element interface{}

// Session is one exclusively-owned browsing context.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// FindVisible returns the visible elements matching a CSS selector in
	// document order.
	FindVisible(ctx context.Context, selector string) ([]Element, error)
	Click(ctx context.Context, el Element) error
	ReadText(ctx context.Context, el Element) (string, error)
	// ReadAttribute reports false when the attribute is absent.
	ReadAttribute(ctx context.Context, el Element, name string) (string, bool, error)
	// FindNear climbs levels ancestors from el and returns the descendants
	// of that ancestor matching selector.
	FindNear(ctx context.Context, el Element, levels int, selector string) ([]Element, error)
	Close() error
}

// Launcher acquires new sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// LauncherFunc adapts a function to a Launcher.
type LauncherFunc func(ctx context.Context) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Options configures the real drivers.
type Options struct {
	Headless       bool
	AllowedDomains []string
	UserAgent      string
}

// NewLauncher returns the launcher for a driver name.
func NewLauncher(driver string, opts Options) (Launcher, error) {
	switch driver {
	case "chromedp":
		return &ChromedpLauncher{Options: opts}, nil
	case "playwright":
		return &PlaywrightLauncher{Options: opts}, nil
	case "static":
		return &StaticLauncher{AllowedDomains: opts.AllowedDomains}, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

func wrongElement(el Element, want string) error {
	return fmt.Errorf("%w: expected %s, got %T", ErrNoElement, want, el)
}
