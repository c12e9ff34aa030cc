package render

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// fakeTool writes an executable shell script standing in for wkhtmltopdf.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "wkhtmltopdf")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWkhtmltopdf_Args(t *testing.T) {
	w := NewWkhtmltopdf(WkhtmltopdfConfig{Paper: "letter", Landscape: true})
	got := strings.Join(w.args("http://a", "/tmp/o.pdf"), " ")
	want := "--quiet --page-size Letter --orientation Landscape http://a /tmp/o.pdf"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestWkhtmltopdf_Success(t *testing.T) {
	// The last argument is the output path.
	tool := fakeTool(t, `for last; do :; done; printf '%%PDF-1.4' > "$last"`)
	out := filepath.Join(t.TempDir(), "out.pdf")

	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: tool})
	if err := w.Render(context.Background(), "example.com", out); err != nil {
		t.Fatalf("render: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestWkhtmltopdf_NetworkFailure(t *testing.T) {
	tool := fakeTool(t, `echo "Exit with code 1 due to network error: HostNotFoundError" >&2; exit 1`)
	out := filepath.Join(t.TempDir(), "out.pdf")

	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: tool})
	err := w.Render(context.Background(), "http://nope.invalid", out)
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestWkhtmltopdf_EmptyOutputIsCrash(t *testing.T) {
	tool := fakeTool(t, `exit 0`)
	out := filepath.Join(t.TempDir(), "out.pdf")

	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: tool})
	err := w.Render(context.Background(), "http://example.com", out)
	if KindOf(err) != KindCrash {
		t.Fatalf("expected crash, got %v", err)
	}
}

func TestWkhtmltopdf_Timeout(t *testing.T) {
	tool := fakeTool(t, `exec sleep 5`)
	out := filepath.Join(t.TempDir(), "out.pdf")

	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: tool, Timeout: 100 * time.Millisecond})
	err := w.Render(context.Background(), "http://example.com", out)
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestWkhtmltopdf_MissingBinary(t *testing.T) {
	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: filepath.Join(t.TempDir(), "missing")})
	err := w.Render(context.Background(), "http://example.com", filepath.Join(t.TempDir(), "o.pdf"))
	if KindOf(err) != KindCrash {
		t.Fatalf("expected crash, got %v", err)
	}
}

func TestWkhtmltopdf_InvalidURL(t *testing.T) {
	w := NewWkhtmltopdf(WkhtmltopdfConfig{Path: "unused"})
	err := w.Render(context.Background(), "ftp://example.com", "/tmp/unused.pdf")
	if KindOf(err) != KindInvalidURL {
		t.Fatalf("expected invalid_url, got %v", err)
	}
}
