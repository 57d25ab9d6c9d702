package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/blockedby/tgsaver/internal/storage"
)

// DefaultPDFTimeout bounds one PDF rendering.
const DefaultPDFTimeout = 60 * time.Second

// PDFRenderer prints HTML exports with headless Chrome.
type PDFRenderer struct {
	timeout time.Duration
}

// NewPDFRenderer creates a renderer with the default timeout.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{timeout: DefaultPDFTimeout}
}

// RenderFile loads htmlPath from disk, so relative media resolves, and writes pdfPath.
func (p *PDFRenderer) RenderFile(ctx context.Context, htmlPath, pdfPath string) error {
	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("resolve html path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("html export: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cctx, cancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)
	defer cancel()

	cctx, cancel = chromedp.NewContext(cctx)
	defer cancel()

	var pdfBuf []byte
	if err := chromedp.Run(cctx,
		chromedp.Navigate("file://"+filepath.ToSlash(abs)),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuf, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			return err
		}),
	); err != nil {
		return fmt.Errorf("chromedp run: %w", err)
	}

	if _, err := storage.AtomicWrite(pdfPath, func(f *os.File) (int64, error) {
		n, err := f.Write(pdfBuf)
		return int64(n), err
	}); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
