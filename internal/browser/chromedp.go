package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/pauljones0/story-monitor/internal/util"
)

const chromedpActionTimeout = 30 * time.Second

// ChromedpLauncher starts a dedicated headless Chrome per session.
type ChromedpLauncher struct {
	Options Options
}

func (l *ChromedpLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.Options.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("log-level", "3"),
	)
	if l.Options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.Options.UserAgent))
	}

	// The browser outlives the launch call, so it hangs off Background and
	// is torn down by Close.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}

	return &ChromedpSession{
		ctx:         browserCtx,
		allocCancel: allocCancel,
		allowed:     l.Options.AllowedDomains,
		timeout:     chromedpActionTimeout,
	}, nil
}

// ChromedpSession drives one Chrome tab. Elements are *cdp.Node.
type ChromedpSession struct {
	ctx         context.Context
	allocCancel context.CancelFunc
	allowed     []string
	timeout     time.Duration
}

func (s *ChromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (s *ChromedpSession) Navigate(ctx context.Context, url string) error {
	if err := util.HostAllowed(url, s.allowed); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *ChromedpSession) FindVisible(ctx context.Context, selector string) ([]Element, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if s.visible(ctx, n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// visible treats a node as visible when Chrome can compute a non-empty box
// model for it.
func (s *ChromedpSession) visible(ctx context.Context, n *cdp.Node) bool {
	var model *dom.BoxModel
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		model, err = dom.GetBoxModel().WithNodeID(n.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		slog.Debug("Node has no box model", "node", n.NodeName, "error", err)
		return false
	}
	return model != nil && model.Width > 0 && model.Height > 0
}

func (s *ChromedpSession) Click(ctx context.Context, el Element) error {
	n, err := asNode(el)
	if err != nil {
		return err
	}
	return s.run(ctx, chromedp.MouseClickNode(n))
}

func (s *ChromedpSession) ReadText(ctx context.Context, el Element) (string, error) {
	n, err := asNode(el)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.run(ctx, chromedp.JavascriptAttribute([]cdp.NodeID{n.NodeID}, "innerText", &text, chromedp.ByNodeID)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", n.NodeName, err)
	}
	return text, nil
}

func (s *ChromedpSession) ReadAttribute(_ context.Context, el Element, name string) (string, bool, error) {
	n, err := asNode(el)
	if err != nil {
		return "", false, err
	}
	v, ok := n.Attribute(name)
	return v, ok, nil
}

func (s *ChromedpSession) FindNear(ctx context.Context, el Element, levels int, selector string) ([]Element, error) {
	n, err := asNode(el)
	if err != nil {
		return nil, err
	}

	ancestor := n
	for i := 0; i < levels; i++ {
		if ancestor.Parent == nil {
			return nil, fmt.Errorf("%w: no ancestor at level %d", ErrNoElement, i+1)
		}
		ancestor = ancestor.Parent
	}

	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.FromNode(ancestor), chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("failed to query %q near %s: %w", selector, n.NodeName, err)
	}
	out := make([]Element, 0, len(nodes))
	for _, found := range nodes {
		out = append(out, found)
	}
	return out, nil
}

func (s *ChromedpSession) Close() error {
	err := chromedp.Cancel(s.ctx)
	s.allocCancel()
	return err
}

func asNode(el Element) (*cdp.Node, error) {
	n, ok := el.(*cdp.Node)
	if !ok || n == nil {
		return nil, wrongElement(el, "*cdp.Node")
	}
	return n, nil
}
