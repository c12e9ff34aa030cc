package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// WkhtmltopdfConfig configures the wkhtmltopdf renderer.
type WkhtmltopdfConfig struct {
	Path      string        // binary; default "wkhtmltopdf" from PATH
	Timeout   time.Duration // 0 = no limit beyond the caller's ctx
	Paper     string        // a4 | letter | legal
	Landscape bool
	ExtraArgs []string
	Logger    *slog.Logger
}

var wkPageSizes = map[string]string{
	"a4":     "A4",
	"letter": "Letter",
	"legal":  "Legal",
}

// Wkhtmltopdf renders pages by running the wkhtmltopdf tool.
type Wkhtmltopdf struct {
	cfg    WkhtmltopdfConfig
	logger *slog.Logger
}

func NewWkhtmltopdf(cfg WkhtmltopdfConfig) *Wkhtmltopdf {
	if cfg.Path == "" {
		cfg.Path = "wkhtmltopdf"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Wkhtmltopdf{cfg: cfg, logger: cfg.Logger.With("renderer", "wkhtmltopdf")}
}

// args builds the command line for one render.
func (w *Wkhtmltopdf) args(target, outPath string) []string {
	args := []string{"--quiet"}
	if size, ok := wkPageSizes[strings.ToLower(w.cfg.Paper)]; ok {
		args = append(args, "--page-size", size)
	}
	if w.cfg.Landscape {
		args = append(args, "--orientation", "Landscape")
	}
	args = append(args, w.cfg.ExtraArgs...)
	return append(args, target, outPath)
}

// Render runs wkhtmltopdf for target, writing to outPath.
func (w *Wkhtmltopdf) Render(ctx context.Context, target, outPath string) error {
	u, err := NormalizeURL(target)
	if err != nil {
		return &Error{Kind: KindInvalidURL, URL: target, Err: err}
	}

	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.cfg.Path, w.args(u, outPath)...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return &Error{Kind: KindCrash, URL: u, Err: err}
		}
		return classify(ctx, u, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return &Error{Kind: KindCrash, URL: u, Err: fmt.Errorf("no output: %w", err)}
	}
	if info.Size() == 0 {
		return &Error{Kind: KindCrash, URL: u, Err: errors.New("empty output")}
	}
	w.logger.Debug("page printed", "url", u, "bytes", info.Size())
	return nil
}
