package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// fakeConn is the connection type used by fakeManager: just an identity so
// tests can tell distinct connections apart.
type fakeConn struct {
	id int
}

var errFakeConnect = errors.New("fake: connect failed")
var errFakeInvalid = errors.New("fake: validation failed")

// fakeManager is a deterministic in-memory Manager. Each knob defaults to
// "always succeeds" and can be dialed toward specific failure patterns per
// test.
type fakeManager struct {
	mu     sync.Mutex
	nextID int

	// failConnectTimes counts down; while > 0, Connect fails.
	failConnectTimes  int32
	alwaysFailConnect bool

	// failIsValidTimes counts down; while > 0, IsValid fails.
	failIsValidTimes int32

	// brokenTimes counts down; while > 0, HasBroken reports true.
	brokenTimes int32
}

func newFakeManager() *fakeManager {
	return &fakeManager{}
}

func (m *fakeManager) Connect(ctx context.Context) (fakeConn, error) {
	if m.alwaysFailConnect {
		return fakeConn{}, errFakeConnect
	}
	if atomic.LoadInt32(&m.failConnectTimes) > 0 {
		atomic.AddInt32(&m.failConnectTimes, -1)
		return fakeConn{}, errFakeConnect
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.mu.Unlock()
	return fakeConn{id: id}, nil
}

func (m *fakeManager) IsValid(ctx context.Context, c fakeConn) error {
	if atomic.LoadInt32(&m.failIsValidTimes) > 0 {
		atomic.AddInt32(&m.failIsValidTimes, -1)
		return errFakeInvalid
	}
	return nil
}

func (m *fakeManager) HasBroken(c fakeConn) bool {
	if atomic.LoadInt32(&m.brokenTimes) > 0 {
		atomic.AddInt32(&m.brokenTimes, -1)
		return true
	}
	return false
}

// sinkRecorder is an ErrorSink that records everything it sees, for
// assertions on background-path errors.
type sinkRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (s *sinkRecorder) Sink(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}
