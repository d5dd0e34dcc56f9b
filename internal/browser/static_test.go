package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const panelHTML = `<!DOCTYPE html>
<html><body>
	<span class="decor">Seen by everyone</span>
	<button id="seen" aria-controls="viewers">Seen by 2</button>
	<div style="display: none"><a href="/ghost/">ghost</a></div>
	<ul id="viewers" hidden>
		<li><div><a href="/bob/" role="link">bob</a></div><span aria-label="Like">&hearts;</span></li>
		<li><div><a href="/carol/" role="link">carol</a></div></li>
	</ul>
	<a href="/next/" id="next">next</a>
</body></html>`

func newPanelSession(t *testing.T) *StaticSession {
	t.Helper()
	s := NewStaticSession(map[string]string{
		"https://example.test/panel": panelHTML,
		"https://example.test/next/": `<html><body><p id="landed">landed</p></body></html>`,
	})
	if err := s.Navigate(context.Background(), "https://example.test/panel/"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	return s
}

func TestStaticSession_FindVisibleHonoursHiddenMarkup(t *testing.T) {
	s := newPanelSession(t)
	ctx := context.Background()

	links, err := s.FindVisible(ctx, "a[role='link']")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("Expected hidden viewer list to be invisible, got %d links", len(links))
	}

	all, err := s.FindVisible(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("Expected only the #next link to be visible, got %d", len(all))
	}
}

func TestStaticSession_ClickRevealsControlledElement(t *testing.T) {
	s := newPanelSession(t)
	ctx := context.Background()

	buttons, err := s.FindVisible(ctx, "button")
	if err != nil || len(buttons) != 1 {
		t.Fatalf("Expected one button, got %d (err %v)", len(buttons), err)
	}
	text, err := s.ReadText(ctx, buttons[0])
	if err != nil {
		t.Fatal(err)
	}
	if text != "Seen by 2" {
		t.Errorf("ReadText() = %q, want %q", text, "Seen by 2")
	}

	if err := s.Click(ctx, buttons[0]); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	links, err := s.FindVisible(ctx, "a[role='link']")
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("Expected 2 revealed links, got %d", len(links))
	}

	href, ok, err := s.ReadAttribute(ctx, links[0], "href")
	if err != nil || !ok || href != "/bob/" {
		t.Errorf("ReadAttribute(href) = %q, %v, %v", href, ok, err)
	}
	if _, ok, _ := s.ReadAttribute(ctx, links[0], "data-missing"); ok {
		t.Error("Expected missing attribute to report false")
	}

	likes, err := s.FindNear(ctx, links[0], 2, "[aria-label*='Like']")
	if err != nil {
		t.Fatal(err)
	}
	if len(likes) != 1 {
		t.Errorf("Expected like marker near bob, got %d", len(likes))
	}
	likes, err = s.FindNear(ctx, links[1], 2, "[aria-label*='Like']")
	if err != nil {
		t.Fatal(err)
	}
	if len(likes) != 0 {
		t.Errorf("Expected no like marker near carol, got %d", len(likes))
	}
}

func TestStaticSession_ClickFollowsHref(t *testing.T) {
	s := newPanelSession(t)
	ctx := context.Background()

	next, err := s.FindVisible(ctx, "#next")
	if err != nil || len(next) != 1 {
		t.Fatalf("Expected #next link, got %d (err %v)", len(next), err)
	}
	if err := s.Click(ctx, next[0]); err != nil {
		t.Fatalf("Click() error = %v", err)
	}
	landed, _ := s.FindVisible(ctx, "#landed")
	if len(landed) != 1 {
		t.Error("Expected navigation to the linked page")
	}
	if got := len(s.Visited()); got != 2 {
		t.Errorf("Expected 2 visited pages, got %d", got)
	}
}

func TestStaticSession_FindNearWithoutAncestor(t *testing.T) {
	s := newPanelSession(t)
	ctx := context.Background()
	next, _ := s.FindVisible(ctx, "#next")

	_, err := s.FindNear(ctx, next[0], 10, "span")
	if !errors.Is(err, ErrNoElement) {
		t.Errorf("Expected ErrNoElement, got %v", err)
	}
}

func TestStaticSession_RejectsForeignElements(t *testing.T) {
	s := newPanelSession(t)
	if _, err := s.ReadText(context.Background(), "not an element"); !errors.Is(err, ErrNoElement) {
		t.Errorf("Expected ErrNoElement, got %v", err)
	}
}

func TestStaticSession_Close(t *testing.T) {
	s := newPanelSession(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if s.Closes() != 1 {
		t.Errorf("Expected 1 close, got %d", s.Closes())
	}
	if err := s.Navigate(context.Background(), "https://example.test/panel"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed after Close, got %v", err)
	}
}

func TestStaticLauncher_FetchesAllowedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>served</h1></body></html>`)
	}))
	defer srv.Close()

	l := &StaticLauncher{AllowedDomains: []string{"127.0.0.1"}, Client: srv.Client()}
	sess, err := l.Launch(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Navigate(ctx, srv.URL+"/page"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	h1, _ := sess.FindVisible(ctx, "h1")
	if len(h1) != 1 {
		t.Errorf("Expected fetched page to contain h1, got %d", len(h1))
	}

	if err := sess.Navigate(ctx, "https://blocked.example/"); err == nil {
		t.Error("Expected navigation outside the allowlist to fail")
	}
}

func TestNewLauncher(t *testing.T) {
	for _, driver := range []string{"chromedp", "playwright", "static"} {
		if _, err := NewLauncher(driver, Options{}); err != nil {
			t.Errorf("NewLauncher(%q) error = %v", driver, err)
		}
	}
	if _, err := NewLauncher("selenium", Options{}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}
