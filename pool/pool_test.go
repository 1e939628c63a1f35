package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func mustBuildUnchecked[C any](t *testing.T, b *Builder[C], m Manager[C]) *Pool[C] {
	t.Helper()
	p, err := b.BuildUnchecked(m)
	if err != nil {
		t.Fatalf("BuildUnchecked: %v", err)
	}
	return p
}

// Scenario 1: max-size respected.
func TestMaxSizeRespected(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(2).TestOnCheckOut(false), m)

	ctx := context.Background()
	pc1, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("get 1: %v", err)
	}
	pc2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}

	if got := p.State().Connections; got != 2 {
		t.Fatalf("state.Connections = %d, want 2", got)
	}

	third := make(chan *PooledConnection[fakeConn], 1)
	thirdErr := make(chan error, 1)
	go func() {
		pc, err := p.Get(ctx)
		third <- pc
		thirdErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-third:
		t.Fatal("third caller should still be blocked")
	default:
	}

	pc1.Release()

	var pc3 *PooledConnection[fakeConn]
	select {
	case pc3 = <-third:
	case <-time.After(2 * time.Second):
		t.Fatal("third caller never unblocked")
	}
	if err := <-thirdErr; err != nil {
		t.Fatalf("third get: %v", err)
	}
	if pc3 == nil {
		t.Fatal("third connection is nil")
	}

	if got := p.State().Connections; got != 2 {
		t.Fatalf("state.Connections after handoff = %d, want 2", got)
	}

	pc2.Release()
	pc3.Release()
}

// Scenario 2: test-on-checkout drops bad entries.
func TestTestOnCheckOutDropsBadEntries(t *testing.T) {
	m := newFakeManager()
	m.failIsValidTimes = 1
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).MinIdle(1), m)

	// Wait for the eager min_idle connection to land.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.State().IdleConnections >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	pc, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pc.Release()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.State().Connections == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.State().Connections; got != 1 {
		t.Fatalf("state.Connections = %d, want 1", got)
	}
}

// Scenario 3: broken on return.
func TestBrokenOnReturn(t *testing.T) {
	m := newFakeManager()
	m.brokenTimes = 1
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(2).MinIdle(1).TestOnCheckOut(false), m)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.State().IdleConnections < 1 {
		time.Sleep(5 * time.Millisecond)
	}

	pc, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pc.Release()

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.State().Connections == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.State().Connections; got != 1 {
		t.Fatalf("state.Connections after replenish = %d, want 1", got)
	}
}

// Scenario 4: idle timeout reaps excess.
func TestIdleTimeoutReapsExcess(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().
		MaxSize(2).
		IdleTimeout(50*time.Millisecond).
		MaxLifetime(0).
		ReaperRate(20*time.Millisecond).
		TestOnCheckOut(false), m)

	pc, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pc.Release()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if p.State().Connections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state.Connections = %d, want 0 within 200ms", p.State().Connections)
}

// Scenario 5: max lifetime reaps aged connections.
func TestMaxLifetimeReapsAged(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().
		MaxSize(2).
		MaxLifetime(100*time.Millisecond).
		IdleTimeout(0).
		ReaperRate(20*time.Millisecond).
		TestOnCheckOut(false), m)

	pc, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pc.Release()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if p.State().IdleConnections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state.IdleConnections = %d, want 0 within 200ms", p.State().IdleConnections)
}

// Scenario 6: waiter FIFO.
func TestWaiterFIFO(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).TestOnCheckOut(false), m)

	ctx := context.Background()
	pc, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	order := make(chan string, 3)
	var wg sync.WaitGroup
	release := func(name string) func(*PooledConnection[fakeConn]) {
		return func(pc *PooledConnection[fakeConn]) {
			order <- name
			pc.Release()
		}
	}

	start := func(name string, out func(*PooledConnection[fakeConn])) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc, err := p.Get(ctx)
			if err != nil {
				t.Errorf("%s get: %v", name, err)
				return
			}
			out(pc)
		}()
		time.Sleep(20 * time.Millisecond) // preserve enqueue order
	}

	start("A", release("A"))
	start("B", release("B"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		pcC, err := p.Get(ctx)
		if err != nil {
			t.Errorf("C get: %v", err)
			return
		}
		order <- "C"
		pcC.Release()
	}()
	time.Sleep(20 * time.Millisecond)

	pc.Release() // unblocks A

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case name := <-order:
			got = append(got, name)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for waiter %d", i)
		}
	}
	wg.Wait()

	want := []string{"A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("waiter order = %v, want %v", got, want)
		}
	}
}

// A manager whose connect always fails causes an eager Build to surface
// the user error (the last one seen) only after roughly the connection
// timeout. This is the one path where a connect failure is awaited
// directly rather than routed to the error sink.
func TestConnectAlwaysFailsPropagatesOnEagerBuild(t *testing.T) {
	m := newFakeManager()
	m.alwaysFailConnect = true

	start := time.Now()
	_, err := NewBuilder[fakeConn]().
		MaxSize(1).
		MinIdle(1).
		ConnectionTimeout(150*time.Millisecond).
		Build(context.Background(), m)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, errFakeConnect) {
		t.Fatalf("expected the manager's error, got %v", err)
	}
	if elapsed < 100*time.Millisecond {
		t.Fatalf("returned too quickly: %v", elapsed)
	}
}

// A manager whose connect always fails causes a plain Get to time out
// (the background connector's error goes to the sink, not to the caller).
func TestConnectAlwaysFailsTimesOutOnGet(t *testing.T) {
	m := newFakeManager()
	m.alwaysFailConnect = true
	sink := &sinkRecorder{}
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().
		MaxSize(1).
		ConnectionTimeout(100*time.Millisecond).
		ErrorSink(sink).
		TestOnCheckOut(false), m)

	start := time.Now()
	_, err := p.Get(context.Background())
	elapsed := time.Since(start)

	if !IsTimedOut(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed < 80*time.Millisecond {
		t.Fatalf("returned too quickly: %v", elapsed)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() == 0 {
		t.Fatal("expected the connector's error to reach the sink")
	}
}

// No leaks: sequential get/release cycles with no errors must reuse the one
// connection the first checkout opened, leaving num_conns at no more than 1.
func TestNoLeaksAcrossCycles(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(3).TestOnCheckOut(false), m)

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		pc, err := p.Get(ctx)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		pc.Release()
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.State().Connections > 1 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.State().Connections; got > 1 {
		t.Fatalf("state.Connections = %d, want <= 1 after sequential reuse", got)
	}
}

// Run surfaces the closure's error to the caller but still returns the
// connection to the pool first.
func TestRunReturnsConnectionAndSurfacesUserError(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).TestOnCheckOut(false), m)

	ctx := context.Background()
	errBoom := errors.New("boom")
	err := p.Run(ctx, func(ctx context.Context, c fakeConn) (fakeConn, error) {
		return c, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected the closure's error, got %v", err)
	}

	// The connection went back to the pool despite the error.
	if got := p.State(); got.Connections != 1 || got.IdleConnections != 1 {
		t.Fatalf("state = %+v, want 1 connection idle", got)
	}

	if err := p.Run(ctx, func(ctx context.Context, c fakeConn) (fakeConn, error) {
		return c, nil
	}); err != nil {
		t.Fatalf("successful Run: %v", err)
	}
}

// DedicatedConnection hands out a connection with no pool bookkeeping at
// all.
func TestDedicatedConnectionBypassesPoolState(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).TestOnCheckOut(false), m)

	c, err := p.DedicatedConnection(context.Background())
	if err != nil {
		t.Fatalf("DedicatedConnection: %v", err)
	}
	if c.id == 0 {
		t.Fatal("expected a real connection")
	}
	if got := p.State().Connections; got != 0 {
		t.Fatalf("state.Connections = %d, want 0", got)
	}
}

// A released connection comes back on the next checkout with its identity
// intact, not a freshly opened replacement.
func TestReleasePreservesConnectionIdentity(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).TestOnCheckOut(false), m)

	ctx := context.Background()
	pc, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	id := pc.Conn().id
	pc.Release()

	pc2, err := p.Get(ctx)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	defer pc2.Release()
	if pc2.Conn().id != id {
		t.Fatalf("second checkout got conn %d, want the returned conn %d", pc2.Conn().id, id)
	}
}

// A waiter that cancels before delivery must not swallow the connection:
// the next return goes to the waiter still in line, not to the one that
// gave up.
func TestAbandonedWaiterDoesNotLeakConnection(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().MaxSize(1).TestOnCheckOut(false), m)

	pc, err := p.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// Waiter A abandons via context cancellation before any return happens.
	ctxA, cancelA := context.WithCancel(context.Background())
	aDone := make(chan error, 1)
	go func() {
		_, err := p.Get(ctxA)
		aDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Waiter B stays.
	bDone := make(chan *PooledConnection[fakeConn], 1)
	go func() {
		pcB, err := p.Get(context.Background())
		if err != nil {
			t.Errorf("B get: %v", err)
			bDone <- nil
			return
		}
		bDone <- pcB
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-aDone; err == nil {
		t.Fatal("expected waiter A to fail after cancellation")
	}

	pc.Release()

	select {
	case pcB := <-bDone:
		if pcB == nil {
			t.Fatal("waiter B got no connection")
		}
		pcB.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("waiter B never received the re-routed connection")
	}

	if got := p.State().Connections; got != 1 {
		t.Fatalf("state.Connections = %d, want 1", got)
	}
}

// Requesting N+1 with max_size=N and nobody releasing: exactly one caller
// (the one with no slot to ever claim) observes a timeout, while the
// other N succeed.
func TestNPlusOneTimesOutOneCaller(t *testing.T) {
	m := newFakeManager()
	p := mustBuildUnchecked(t, NewBuilder[fakeConn]().
		MaxSize(2).
		ConnectionTimeout(150*time.Millisecond).
		TestOnCheckOut(false), m)

	ctx := context.Background()
	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := p.Get(ctx)
			results <- err
		}()
	}

	timedOut, succeeded := 0, 0
	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			switch {
			case err == nil:
				succeeded++
			case IsTimedOut(err):
				timedOut++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Get never returned")
		}
	}
	if timedOut != 1 || succeeded != 2 {
		t.Fatalf("timedOut=%d succeeded=%d, want 1 and 2", timedOut, succeeded)
	}
}
