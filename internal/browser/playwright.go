package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/pauljones0/story-monitor/internal/util"
)

// PlaywrightLauncher starts a Playwright-managed Chromium per session.
type PlaywrightLauncher struct {
	Options Options
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}

	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.Options.Headless),
		Args:     []string{"--no-sandbox", "--disable-dev-shm-usage", "--disable-gpu", "--disable-extensions"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("could not launch chromium: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{}
	if l.Options.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(l.Options.UserAgent)
	}
	bctx, err := b.NewContext(contextOpts)
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("could not create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("could not create page: %w", err)
	}

	return &PlaywrightSession{pw: pw, browser: b, page: page, allowed: l.Options.AllowedDomains}, nil
}

// PlaywrightSession drives one page. Elements are playwright.ElementHandle.
// Playwright calls are not context-aware, so ctx is only checked up front.
type PlaywrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	allowed []string
}

func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := util.HostAllowed(url, s.allowed); err != nil {
		return err
	}
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *PlaywrightSession) FindVisible(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := s.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	out := make([]Element, 0, len(handles))
	for _, h := range handles {
		ok, err := h.IsVisible()
		if err != nil || !ok {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (s *PlaywrightSession) Click(ctx context.Context, el Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := asHandle(el)
	if err != nil {
		return err
	}
	return h.Click()
}

func (s *PlaywrightSession) ReadText(ctx context.Context, el Element) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, err := asHandle(el)
	if err != nil {
		return "", err
	}
	return h.InnerText()
}

func (s *PlaywrightSession) ReadAttribute(ctx context.Context, el Element, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	h, err := asHandle(el)
	if err != nil {
		return "", false, err
	}
	// getAttribute yields null for a missing attribute, which GetAttribute
	// would flatten to "".
	v, err := h.Evaluate("(el, name) => el.getAttribute(name)", name)
	if err != nil {
		return "", false, err
	}
	str, ok := v.(string)
	return str, ok, nil
}

func (s *PlaywrightSession) FindNear(ctx context.Context, el Element, levels int, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := asHandle(el)
	if err != nil {
		return nil, err
	}

	ancestor := h
	for i := 0; i < levels; i++ {
		parent, err := ancestor.QuerySelector("xpath=..")
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: no ancestor at level %d", ErrNoElement, i+1)
		}
		ancestor = parent
	}

	handles, err := ancestor.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(handles))
	for _, found := range handles {
		out = append(out, found)
	}
	return out, nil
}

func (s *PlaywrightSession) Close() error {
	return errors.Join(s.page.Close(), s.browser.Close(), s.pw.Stop())
}

func asHandle(el Element) (playwright.ElementHandle, error) {
	h, ok := el.(playwright.ElementHandle)
	if !ok || h == nil {
		return nil, wrongElement(el, "playwright.ElementHandle")
	}
	return h, nil
}
