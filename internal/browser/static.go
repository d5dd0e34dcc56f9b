package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pauljones0/story-monitor/internal/util"
)

// ErrSessionClosed is returned by a static session after Close.
var ErrSessionClosed = errors.New("session closed")

// StaticLauncher creates StaticSessions serving Pages, falling back to HTTP
// fetches restricted to AllowedDomains.
type StaticLauncher struct {
	Pages          map[string]string
	AllowedDomains []string
	Client         *http.Client
}

func (l *StaticLauncher) Launch(_ context.Context) (Session, error) {
	s := NewStaticSession(l.Pages)
	s.allowed = l.AllowedDomains
	s.client = l.Client
	if s.client == nil && len(l.AllowedDomains) > 0 {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}
	return s, nil
}

// StaticSession renders pages without a browser: HTML is parsed with
// x/net/html and queried through goquery. Click un-hides the element named
// by aria-controls, or follows href.
type StaticSession struct {
	mu      sync.Mutex
	pages   map[string]string
	allowed []string
	client  *http.Client

	doc     *goquery.Document
	current string
	visited []string
	clicks  int
	closes  int
}

// NewStaticSession serves pages keyed by absolute URL.
func NewStaticSession(pages map[string]string) *StaticSession {
	copied := make(map[string]string, len(pages))
	for k, v := range pages {
		copied[k] = v
	}
	return &StaticSession{pages: copied}
}

// SetPage adds or replaces a page.
func (s *StaticSession) SetPage(url, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = body
}

// Visited lists navigated URLs in order.
func (s *StaticSession) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Clicks counts Click calls.
func (s *StaticSession) Clicks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks
}

// Closes counts Close calls.
func (s *StaticSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *StaticSession) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes > 0 {
		return ErrSessionClosed
	}
	return s.navigateLocked(ctx, url)
}

func (s *StaticSession) navigateLocked(ctx context.Context, url string) error {
	body, ok := s.lookupPage(url)
	if !ok {
		fetched, err := s.fetch(ctx, url)
		if err != nil {
			return err
		}
		body = fetched
	}

	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to parse page %s: %w", url, err)
	}
	s.doc = goquery.NewDocumentFromNode(root)
	s.current = url
	s.visited = append(s.visited, url)
	return nil
}

func (s *StaticSession) lookupPage(url string) (string, bool) {
	candidates := []string{url, strings.TrimSuffix(url, "/"), url + "/"}
	for _, c := range candidates {
		if body, ok := s.pages[c]; ok {
			return body, true
		}
	}
	return "", false
}

func (s *StaticSession) fetch(ctx context.Context, url string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("no page registered for %s", url)
	}
	if err := util.HostAllowed(url, s.allowed); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request for URL %s: %w", url, err)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL %s: status code %d", url, res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read URL %s: %w", url, err)
	}
	return string(data), nil
}

func (s *StaticSession) FindVisible(_ context.Context, selector string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	var out []Element
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if visible(sel.Nodes[0]) {
			out = append(out, sel)
		}
	})
	return out, nil
}

func (s *StaticSession) Click(ctx context.Context, el Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return err
	}
	sel, err := asSelection(el)
	if err != nil {
		return err
	}
	s.clicks++

	// Clicks bubble: the nearest ancestor-or-self that reacts handles it.
	for cur := sel; cur.Length() > 0; cur = cur.Parent() {
		if target, ok := cur.Attr("aria-controls"); ok && target != "" {
			controlled := s.doc.Find("#" + target)
			if controlled.Length() == 0 {
				return fmt.Errorf("%w: #%s", ErrNoElement, target)
			}
			controlled.RemoveAttr("hidden")
			cur.SetAttr("aria-expanded", "true")
			return nil
		}

		if href, ok := cur.Attr("href"); ok && href != "" && !strings.HasPrefix(href, "#") {
			next, err := util.JoinURL(s.current, href)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", href, err)
			}
			return s.navigateLocked(ctx, next)
		}
	}
	return nil
}

func (s *StaticSession) ReadText(_ context.Context, el Element) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", err
	}
	sel, err := asSelection(el)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(sel.Text()), " "), nil
}

func (s *StaticSession) ReadAttribute(_ context.Context, el Element, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return "", false, err
	}
	sel, err := asSelection(el)
	if err != nil {
		return "", false, err
	}
	v, ok := sel.Attr(name)
	return v, ok, nil
}

func (s *StaticSession) FindNear(_ context.Context, el Element, levels int, selector string) ([]Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	sel, err := asSelection(el)
	if err != nil {
		return nil, err
	}

	ancestor := sel
	for i := 0; i < levels; i++ {
		ancestor = ancestor.Parent()
		if ancestor.Length() == 0 {
			return nil, fmt.Errorf("%w: no ancestor at level %d", ErrNoElement, i+1)
		}
	}

	var out []Element
	ancestor.Find(selector).Each(func(_ int, found *goquery.Selection) {
		out = append(out, found)
	})
	return out, nil
}

func (s *StaticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.doc = nil
	return nil
}

func (s *StaticSession) readyLocked() error {
	if s.closes > 0 {
		return ErrSessionClosed
	}
	if s.doc == nil {
		return errors.New("no page loaded")
	}
	return nil
}

func asSelection(el Element) (*goquery.Selection, error) {
	sel, ok := el.(*goquery.Selection)
	if !ok || sel == nil || sel.Length() == 0 {
		return nil, wrongElement(el, "*goquery.Selection")
	}
	return sel, nil
}

// visible walks n and its ancestors looking for markup that hides it.
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		for _, attr := range cur.Attr {
			switch attr.Key {
			case "hidden":
				return false
			case "aria-hidden":
				if strings.EqualFold(attr.Val, "true") {
					return false
				}
			case "style":
				style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
				if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
					return false
				}
			}
		}
	}
	return true
}
