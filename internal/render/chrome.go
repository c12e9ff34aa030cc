package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width, Height float64
}

var paperSizes = map[string]PaperSize{
	"a4":     {Width: 8.27, Height: 11.69},
	"letter": {Width: 8.5, Height: 11},
	"legal":  {Width: 8.5, Height: 14},
}

// LookupPaper returns the named paper size (a4, letter, legal).
func LookupPaper(name string) (PaperSize, bool) {
	p, ok := paperSizes[strings.ToLower(name)]
	return p, ok
}

// ChromeConfig holds configuration for the headless Chrome renderer.
type ChromeConfig struct {
	ExecPath        string        // Chrome binary; empty = let chromedp find it
	Headless        bool          // Run headless (true) or with visible UI (false)
	NoSandbox       bool          // needed when running as root in containers
	UserAgent       string        // optional UA override
	Timeout         time.Duration // per page; 0 = no limit beyond the caller's ctx
	Paper           string        // a4 | letter | legal
	Landscape       bool
	PrintBackground bool
	Logger          *slog.Logger
}

// Chrome renders pages with a shared headless Chrome process, one tab per
// render.
type Chrome struct {
	cfg    ChromeConfig
	paper  PaperSize
	logger *slog.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChrome creates a Chrome renderer. The browser is started on first use.
func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	paper, ok := LookupPaper(cfg.Paper)
	if !ok {
		paper = paperSizes["a4"]
	}
	return &Chrome{
		cfg:    cfg,
		paper:  paper,
		logger: cfg.Logger.With("renderer", "chrome"),
	}
}

// browser returns the shared browser context, (re)starting Chrome if it is
// not running.
func (c *Chrome) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil && c.browserCtx.Err() == nil {
		return c.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("hide-scrollbars", true),
	)
	if c.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecPath))
	}
	if c.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if c.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	c.browserCtx = browserCtx
	c.browserCancel = func() {
		browserCancel()
		allocCancel()
	}
	c.logger.Info("chrome started", "headless", c.cfg.Headless)
	return browserCtx, nil
}

// Render loads target in a fresh tab and prints it to outPath.
func (c *Chrome) Render(ctx context.Context, target, outPath string) error {
	u, err := NormalizeURL(target)
	if err != nil {
		return &Error{Kind: KindInvalidURL, URL: target, Err: err}
	}

	browserCtx, err := c.browser()
	if err != nil {
		return &Error{Kind: KindCrash, URL: u, Err: err}
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if c.cfg.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		tabCtx, timeoutCancel = context.WithTimeout(tabCtx, c.cfg.Timeout)
		defer timeoutCancel()
	}

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(u),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(c.cfg.PrintBackground).
				WithLandscape(c.cfg.Landscape).
				WithPaperWidth(c.paper.Width).
				WithPaperHeight(c.paper.Height).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return classify(tabCtx, u, err)
	}

	if err := os.WriteFile(outPath, pdf, 0o600); err != nil {
		return &Error{Kind: KindCrash, URL: u, Err: fmt.Errorf("write pdf: %w", err)}
	}
	c.logger.Debug("page printed", "url", u, "bytes", len(pdf))
	return nil
}

// Close stops the browser, if it was started.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCancel != nil {
		c.browserCancel()
		c.browserCancel = nil
		c.browserCtx = nil
	}
	return nil
}
