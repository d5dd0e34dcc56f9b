// Package scraper turns a rendered story viewer panel into an Extraction.
// All page knowledge lives in SelectorConfig; the heuristics here are
// best-effort and never fail a cycle over one odd element.
package scraper

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pauljones0/story-monitor/internal/browser"
	"github.com/pauljones0/story-monitor/internal/models"
	"github.com/pauljones0/story-monitor/internal/util"
)

var seenByRegex = regexp.MustCompile(`(?i)seen\s+by`)

// Options tunes an Extractor.
type Options struct {
	// PlatformBaseURL identifies links that stay on the platform.
	PlatformBaseURL  string
	PanelSettle      time.Duration
	NavigationSettle time.Duration
}

type Extractor struct {
	selectors SelectorConfig
	host      string
	skip      map[string]bool
	opts      Options
}

func New(selectors SelectorConfig, opts Options) *Extractor {
	skip := make(map[string]bool, len(selectors.SkipSegments))
	for _, seg := range selectors.SkipSegments {
		skip[strings.ToLower(seg)] = true
	}
	return &Extractor{
		selectors: selectors,
		host:      strings.TrimPrefix(util.Hostname(opts.PlatformBaseURL), "www."),
		skip:      skip,
		opts:      opts,
	}
}

// OpenStory clicks the first visible story ring and reports whether one was
// found.
func (e *Extractor) OpenStory(ctx context.Context, sess browser.Session) (bool, error) {
	for _, selector := range e.selectors.StoryRings {
		rings, err := sess.FindVisible(ctx, selector)
		if err != nil {
			slog.Debug("Story ring lookup failed", "selector", selector, "error", err)
			continue
		}
		if len(rings) == 0 {
			continue
		}
		if err := sess.Click(ctx, rings[0]); err != nil {
			return false, fmt.Errorf("failed to open story via %q: %w", selector, err)
		}
		time.Sleep(e.opts.NavigationSettle)
		return true, nil
	}
	return false, nil
}

// Extract reads the open story's viewer panel. A panel without a "seen by"
// control yields an empty Extraction and no error.
func (e *Extractor) Extract(ctx context.Context, sess browser.Session, ownHandle string) (models.Extraction, error) {
	pairs, reported, err := e.Pairs(ctx, sess, ownHandle)
	if err != nil {
		return models.Extraction{}, err
	}

	out := models.Extraction{ReportedViews: reported}
	for handle, liked := range pairs {
		out.Viewers = append(out.Viewers, handle)
		if liked {
			out.Likers = append(out.Likers, handle)
		}
	}
	return out, nil
}

// Pairs opens the viewer panel and returns a lazy sequence of (handle, liked)
// pairs in panel order together with the reported view count. The sequence
// can be ranged over once; later ranges yield nothing.
func (e *Extractor) Pairs(ctx context.Context, sess browser.Session, ownHandle string) (iter.Seq2[string, bool], int, error) {
	control, reported, found := e.findSeenBy(ctx, sess)
	if !found {
		slog.Debug("No seen-by control on panel")
		return func(func(string, bool) bool) {}, 0, nil
	}

	if err := sess.Click(ctx, control); err != nil {
		return nil, 0, fmt.Errorf("failed to open viewer panel: %w", err)
	}
	time.Sleep(e.opts.PanelSettle)

	consumed := false
	seq := func(yield func(string, bool) bool) {
		if consumed {
			return
		}
		consumed = true

		seen := make(map[string]bool)
		for _, selector := range e.selectors.ViewerLinks {
			links, err := sess.FindVisible(ctx, selector)
			if err != nil {
				slog.Debug("Viewer link lookup failed", "selector", selector, "error", err)
				continue
			}
			for _, link := range links {
				if ctx.Err() != nil {
					return
				}
				handle := e.handleFor(ctx, sess, link)
				if handle == "" || models.SameHandle(handle, ownHandle) {
					continue
				}
				key := strings.ToLower(handle)
				if seen[key] {
					continue
				}
				seen[key] = true

				if !yield(handle, e.liked(ctx, sess, link)) {
					return
				}
			}
		}
	}
	return seq, reported, nil
}

func (e *Extractor) findSeenBy(ctx context.Context, sess browser.Session) (browser.Element, int, bool) {
	for _, selector := range e.selectors.SeenByControls {
		candidates, err := sess.FindVisible(ctx, selector)
		if err != nil {
			slog.Debug("Seen-by lookup failed", "selector", selector, "error", err)
			continue
		}
		for _, el := range candidates {
			text, err := sess.ReadText(ctx, el)
			if err != nil {
				slog.Debug("Skipping unreadable seen-by candidate", "error", err)
				continue
			}
			loc := seenByRegex.FindStringIndex(text)
			if loc == nil {
				continue
			}
			rest := text[loc[1]:]
			if !util.ContainsDigit(rest) {
				continue
			}
			return el, util.FirstNumber(rest), true
		}
	}
	return nil, 0, false
}

// handleFor derives a viewer handle from a link, preferring its href and
// falling back to its visible text. Permalinks and off-platform hrefs yield
// no handle, so only their text can name the viewer.
func (e *Extractor) handleFor(ctx context.Context, sess browser.Session, link browser.Element) string {
	href, ok, err := sess.ReadAttribute(ctx, link, "href")
	if err != nil {
		slog.Debug("Skipping viewer link without readable href", "error", err)
		return ""
	}
	if ok {
		if handle := e.handleFromHref(href); handle != "" {
			return handle
		}
	}

	text, err := sess.ReadText(ctx, link)
	if err != nil {
		slog.Debug("Skipping viewer link without readable text", "error", err)
		return ""
	}
	text = models.NormalizeHandle(text)
	if !models.ValidHandle(text) {
		return ""
	}
	return text
}

// viewerLink rejects permalinks and links that leave the platform.
func (e *Extractor) viewerLink(href string) bool {
	if strings.Contains(href, "/p/") {
		return false
	}
	host := strings.TrimPrefix(util.Hostname(href), "www.")
	return host == "" || e.host == "" || host == e.host
}

func (e *Extractor) handleFromHref(href string) string {
	if !e.viewerLink(href) {
		return ""
	}
	segments, err := util.PathSegments(href)
	if err != nil {
		return ""
	}
	for _, seg := range segments {
		lower := strings.ToLower(seg)
		if e.skip[lower] || strings.TrimPrefix(lower, "www.") == e.host {
			continue
		}
		if !models.ValidHandle(seg) {
			return ""
		}
		return seg
	}
	return ""
}

func (e *Extractor) liked(ctx context.Context, sess browser.Session, link browser.Element) bool {
	markers, err := sess.FindNear(ctx, link, e.selectors.LikeSearchDepth, e.selectors.LikeMarkers)
	if err != nil {
		slog.Debug("Like lookup failed", "error", err)
		return false
	}
	return len(markers) > 0
}
