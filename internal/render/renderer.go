// Package render turns report HTML into PDF bytes using a small pool of
// headless browsers.
package render

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldreport/internal/pool"
	logx "fieldreport/pkg/logx"
)

var ErrEmptyDocument = errors.New("render: empty html document")

// Engine renders one HTML document to PDF. A *Browser is the production engine.
type Engine interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

type Config struct {
	PoolSize int
	// Timeout bounds one render, including the wait for a free engine.
	Timeout time.Duration
}

// Renderer dispatches PDF requests onto pooled engines.
type Renderer struct {
	pool    *pool.Pool[Engine]
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, factory pool.Factory[Engine], log logx.Logger) *Renderer {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "render"))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Renderer{
		pool:    pool.New[Engine](pool.Config{MaxResources: cfg.PoolSize}, factory, log),
		timeout: timeout,
		log:     log,
	}
}

// Start launches the pool eagerly so the first request does not pay for it.
func (r *Renderer) Start(ctx context.Context) {
	r.pool.Initialize(ctx)
}

func (r *Renderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if strings.TrimSpace(html) == "" {
		return nil, ErrEmptyDocument
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	var out []byte
	err := r.pool.WithResource(ctx, func(ctx context.Context, e Engine) error {
		b, err := e.PrintPDF(ctx, html)
		out = b
		return err
	})
	st := r.pool.Stats()
	fields := []logx.Field{
		logx.Duration("took", time.Since(started)),
		logx.Int("pool_busy", st.Busy),
		logx.Int("pool_available", st.Available),
		logx.Int("pool_queued", st.Queued),
	}
	if err != nil {
		r.log.Warn("pdf render failed", append(fields, logx.Err(err))...)
		return nil, err
	}
	r.log.Debug("pdf rendered", append(fields, logx.Int("bytes", len(out)))...)
	return out, nil
}

func (r *Renderer) Stats() pool.Stats { return r.pool.Stats() }

func (r *Renderer) Shutdown(ctx context.Context) { r.pool.Shutdown(ctx) }
