package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDFRenderer_MissingHTML(t *testing.T) {
	err := NewPDFRenderer().RenderFile(context.Background(), filepath.Join(t.TempDir(), "nope.html"), filepath.Join(t.TempDir(), "out.pdf"))
	assert.Error(t, err)
}

// Requires Chrome or chromedp/headless-shell.
func TestPDFRenderer_RenderFile(t *testing.T) {
	if os.Getenv("PDF_TEST") == "" {
		t.Skip("Skipping PDF test; set PDF_TEST=1 to run")
	}

	dir := t.TempDir()
	htmlPath := filepath.Join(dir, HTMLFile)
	require.NoError(t, os.WriteFile(htmlPath, []byte("<html><body><p>hello</p></body></html>"), 0o644))

	pdfPath := filepath.Join(dir, PDFFile)
	require.NoError(t, NewPDFRenderer().RenderFile(context.Background(), htmlPath, pdfPath))

	body, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, len(body) > 4 && string(body[:4]) == "%PDF")
}
