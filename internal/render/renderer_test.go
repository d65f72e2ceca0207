package render

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "fieldreport/pkg/logx"
)

type fakeEngine struct {
	id    int
	fail  bool
	delay time.Duration
}

func (e *fakeEngine) PrintPDF(ctx context.Context, html string) ([]byte, error) {
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.fail {
		return nil, errors.New("chrome crashed")
	}
	return []byte("%PDF-1.4 " + html), nil
}

type fakeFactory struct {
	created   atomic.Int32
	destroyed atomic.Int32
	engine    func(id int) *fakeEngine
}

func (f *fakeFactory) Create(ctx context.Context) (Engine, error) {
	id := int(f.created.Add(1))
	if f.engine != nil {
		return f.engine(id), nil
	}
	return &fakeEngine{id: id}, nil
}

func (f *fakeFactory) Destroy(e Engine) error {
	f.destroyed.Add(1)
	return nil
}

func TestRenderPDF(t *testing.T) {
	f := &fakeFactory{}
	r := New(Config{PoolSize: 2}, f, logx.Nop())
	r.Start(context.Background())

	out, err := r.RenderPDF(context.Background(), "<h1>Report</h1>")
	if err != nil {
		t.Fatalf("RenderPDF: %v", err)
	}
	if !strings.HasPrefix(string(out), "%PDF") {
		t.Fatalf("unexpected output %q", out)
	}
	if st := r.Stats(); st.Total != 2 || st.Available != 2 || st.Busy != 0 {
		t.Fatalf("stats = %+v", st)
	}

	r.Shutdown(context.Background())
	if f.destroyed.Load() != 2 {
		t.Fatalf("destroyed = %d, want 2", f.destroyed.Load())
	}
}

func TestRenderRejectsEmptyDocument(t *testing.T) {
	r := New(Config{PoolSize: 1}, &fakeFactory{}, logx.Nop())
	if _, err := r.RenderPDF(context.Background(), "  "); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("error = %v, want ErrEmptyDocument", err)
	}
}

func TestRenderFailureReleasesEngine(t *testing.T) {
	f := &fakeFactory{engine: func(id int) *fakeEngine { return &fakeEngine{id: id, fail: true} }}
	r := New(Config{PoolSize: 1}, f, logx.Nop())

	for i := 0; i < 3; i++ {
		if _, err := r.RenderPDF(context.Background(), "<p>x</p>"); err == nil {
			t.Fatal("expected render error")
		}
	}
	if st := r.Stats(); st.Available != 1 || st.Busy != 0 {
		t.Fatalf("engine not released: %+v", st)
	}
}

func TestRenderTimeoutWhileQueued(t *testing.T) {
	f := &fakeFactory{engine: func(id int) *fakeEngine { return &fakeEngine{id: id, delay: 200 * time.Millisecond} }}
	r := New(Config{PoolSize: 1, Timeout: 50 * time.Millisecond}, f, logx.Nop())
	r.Start(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := r.RenderPDF(context.Background(), "<p>slow</p>")
		done <- err
	}()
	if _, err := r.RenderPDF(context.Background(), "<p>queued</p>"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued render error = %v, want deadline exceeded", err)
	}
	<-done
	if st := r.Stats(); st.Queued != 0 || st.Busy != 0 {
		t.Fatalf("stats after timeout = %+v", st)
	}
}
