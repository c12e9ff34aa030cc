package domain

import "context"

// Renderer converts a web page to a PDF file on local storage.
type Renderer interface {
	Render(ctx context.Context, url, outPath string) error
}
