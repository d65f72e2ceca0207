package render

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	logx "fieldreport/pkg/logx"
)

// Browser is one headless Chrome process. Each PrintPDF opens and closes a
// tab; the process itself lives until Close.
type Browser struct {
	id          int
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once
}

func (b *Browser) PrintPDF(ctx context.Context, html string) ([]byte, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	defer cancel()
	// Tie the tab to the caller's deadline.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("browser %d: print pdf: %w", b.id, err)
	}
	return pdf, nil
}

func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.allocCancel()
	})
	return nil
}

// ChromeConfig controls how browsers are launched.
type ChromeConfig struct {
	ExecPath  string
	NoSandbox bool
}

// ChromeFactory launches headless Chrome instances for the pool.
type ChromeFactory struct {
	cfg ChromeConfig
	log logx.Logger

	mu   sync.Mutex
	next int
}

func NewChromeFactory(cfg ChromeConfig, log logx.Logger) *ChromeFactory {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ChromeFactory{cfg: cfg, log: log.With(logx.String("comp", "render.chrome"))}
}

func (f *ChromeFactory) Create(ctx context.Context) (Engine, error) {
	f.mu.Lock()
	f.next++
	id := f.next
	f.mu.Unlock()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.DisableGPU)
	if p := strings.TrimSpace(f.cfg.ExecPath); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	// Browsers outlive the request that triggered pool initialization.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx)
	// An empty Run starts the browser process.
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser %d: %w", id, err)
	}
	f.log.Info("browser launched", logx.Int("id", id))
	return &Browser{id: id, ctx: bctx, cancel: cancel, allocCancel: allocCancel}, nil
}

func (f *ChromeFactory) Destroy(e Engine) error {
	if c, ok := e.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
