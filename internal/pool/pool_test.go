package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "fieldreport/pkg/logx"
)

type fakeRes struct{ id int }

type fakeFactory struct {
	mu        sync.Mutex
	created   int
	destroyed int
	failAt    map[int]bool
}

func (f *fakeFactory) Create(ctx context.Context) (*fakeRes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.created
	f.created++
	if f.failAt[idx] {
		return nil, errors.New("launch failed")
	}
	return &fakeRes{id: idx}, nil
}

func (f *fakeFactory) Destroy(r *fakeRes) error {
	f.mu.Lock()
	f.destroyed++
	f.mu.Unlock()
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeRes](Config{}, f, logx.Nop())
	ctx := context.Background()

	p.Initialize(ctx)
	p.Initialize(ctx)

	if f.created != 3 {
		t.Fatalf("created = %d, want 3", f.created)
	}
	if st := p.Stats(); st.Total != 3 || st.Available != 3 || st.Busy != 0 || st.Queued != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestInitializeToleratesPartialFailure(t *testing.T) {
	f := &fakeFactory{failAt: map[int]bool{1: true}}
	p := New[*fakeRes](Config{MaxResources: 3}, f, logx.Nop())
	p.Initialize(context.Background())

	if st := p.Stats(); st.Total != 2 {
		t.Fatalf("total = %d, want 2", st.Total)
	}
}

func TestAcquireEmptyPool(t *testing.T) {
	f := &fakeFactory{failAt: map[int]bool{0: true, 1: true}}
	p := New[*fakeRes](Config{MaxResources: 2}, f, logx.Nop())

	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Acquire error = %v, want ErrEmpty", err)
	}
}

func TestAcquireInitializesImplicitly(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeRes](Config{MaxResources: 1}, f, logx.Nop())

	r, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if st := p.Stats(); st.Busy != 1 || st.Available != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	p.Release(r)
	if st := p.Stats(); st.Busy != 0 || st.Available != 1 {
		t.Fatalf("unexpected stats after release %+v", st)
	}
}

func TestWaitersServedInArrivalOrder(t *testing.T) {
	p := New[*fakeRes](Config{MaxResources: 1}, &fakeFactory{}, logx.Nop())
	ctx := context.Background()

	held, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	order := make(chan string, 2)
	var wg sync.WaitGroup
	start := func(name string, queued int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("%s: Acquire: %v", name, err)
				return
			}
			order <- name
			p.Release(r)
		}()
		waitFor(t, func() bool { return p.Stats().Queued == queued })
	}
	start("first", 1)
	start("second", 2)

	p.Release(held)
	wg.Wait()
	close(order)

	var got []string
	for name := range order {
		got = append(got, name)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("service order = %v, want [first second]", got)
	}
	if st := p.Stats(); st.Available != 1 || st.Busy != 0 || st.Queued != 0 {
		t.Fatalf("unexpected final stats %+v", st)
	}
}

func TestWithResourceReleasesOnErrorAndPanic(t *testing.T) {
	p := New[*fakeRes](Config{MaxResources: 1}, &fakeFactory{}, logx.Nop())
	ctx := context.Background()

	boom := errors.New("render failed")
	err := p.WithResource(ctx, func(ctx context.Context, r *fakeRes) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("WithResource error = %v, want %v", err, boom)
	}
	if st := p.Stats(); st.Available != 1 {
		t.Fatalf("resource not released after error: %+v", st)
	}

	func() {
		defer func() { _ = recover() }()
		_ = p.WithResource(ctx, func(ctx context.Context, r *fakeRes) error { panic("crash") })
	}()
	if st := p.Stats(); st.Available != 1 || st.Busy != 0 {
		t.Fatalf("resource not released after panic: %+v", st)
	}
}

func TestAcquireCanceledWithdrawsWaiter(t *testing.T) {
	p := New[*fakeRes](Config{MaxResources: 1}, &fakeFactory{}, logx.Nop())
	held, _ := p.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	waitFor(t, func() bool { return p.Stats().Queued == 1 })
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire error = %v, want context.Canceled", err)
	}
	if st := p.Stats(); st.Queued != 0 {
		t.Fatalf("waiter not withdrawn: %+v", st)
	}
	p.Release(held)
	if st := p.Stats(); st.Available != 1 {
		t.Fatalf("resource lost after cancellation: %+v", st)
	}
}

func TestShutdownDestroysEverything(t *testing.T) {
	f := &fakeFactory{}
	p := New[*fakeRes](Config{MaxResources: 2}, f, logx.Nop())
	ctx := context.Background()

	a, _ := p.Acquire(ctx)
	b, _ := p.Acquire(ctx)
	_ = b

	var waiterErr atomic.Value
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := p.Acquire(ctx)
		waiterErr.Store(err)
	}()
	waitFor(t, func() bool { return p.Stats().Queued == 1 })

	p.Shutdown(ctx)
	<-done

	if err, _ := waiterErr.Load().(error); !errors.Is(err, ErrClosed) {
		t.Fatalf("waiter error = %v, want ErrClosed", err)
	}
	if f.destroyed != 2 {
		t.Fatalf("destroyed = %d, want 2", f.destroyed)
	}
	if st := p.Stats(); st != (Stats{}) {
		t.Fatalf("stats after shutdown = %+v", st)
	}

	// Releasing a destroyed resource is ignored.
	p.Release(a)
	if st := p.Stats(); st.Available != 0 {
		t.Fatalf("destroyed resource returned to pool: %+v", st)
	}
}
