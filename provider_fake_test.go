package seqrt

import (
	"context"
	"sync"
	"time"
)

// fakeVar is one VarCreate'd binding on a fakeProvider.
type fakeVar struct {
	name   string
	connCB ConnectionCallback
	monCB  MonitorCallback
}

// fakeProvider is a minimal in-memory PVProvider double for tests: no real
// transport, callbacks are driven directly by test code via connect/deliver,
// and VarGet/VarPut complete asynchronously with a canned (or test-supplied)
// response.
type fakeProvider struct {
	mu    sync.Mutex
	vars  map[string]*fakeVar
	fails map[string]int // remaining VarCreate failures before it succeeds

	getResp func(name string) ([]byte, PVMeta, error)
	putResp func(name string) (PVMeta, error)

	flushCalls   int
	createCalls  int
	destroyCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{vars: make(map[string]*fakeVar), fails: make(map[string]int)}
}

func (f *fakeProvider) CreateContext(ctx context.Context) error {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) DestroyContext() error {
	f.mu.Lock()
	f.destroyCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) calls() (create, destroy, flush int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.destroyCalls, f.flushCalls
}

func (f *fakeProvider) failNextCreates(name string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails[name] = n
}

func (f *fakeProvider) VarCreate(name string, cb ConnectionCallback) (PVHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.fails[name]; n > 0 {
		f.fails[name] = n - 1
		return nil, errConnectFailed
	}
	fv := &fakeVar{name: name, connCB: cb}
	f.vars[name] = fv
	return name, nil
}

func (f *fakeProvider) VarDestroy(h PVHandle) error { return nil }

func (f *fakeProvider) VarGet(h PVHandle, typ PVType, count int, cb GetCallback, timeout time.Duration) error {
	name, _ := h.(string)
	go func() {
		if f.getResp != nil {
			v, m, err := f.getResp(name)
			cb(v, m, err)
			return
		}
		cb(nil, PVMeta{}, nil)
	}()
	return nil
}

func (f *fakeProvider) VarPut(h PVHandle, typ PVType, value []byte, cb PutCallback, timeout time.Duration) error {
	name, _ := h.(string)
	go func() {
		if f.putResp != nil {
			m, err := f.putResp(name)
			cb(m, err)
			return
		}
		cb(PVMeta{}, nil)
	}()
	return nil
}

func (f *fakeProvider) VarMonitorOn(h PVHandle, typ PVType, cb MonitorCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, _ := h.(string)
	if fv, ok := f.vars[name]; ok {
		fv.monCB = cb
	}
	return nil
}

func (f *fakeProvider) VarMonitorOff(h PVHandle) error { return nil }

// Flush implements the optional Flusher capability (pvprovider.go).
func (f *fakeProvider) Flush() error {
	f.mu.Lock()
	f.flushCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeProvider) connect(name string, connected bool) {
	f.mu.Lock()
	fv := f.vars[name]
	f.mu.Unlock()
	if fv != nil && fv.connCB != nil {
		fv.connCB(connected, PVMeta{})
	}
}

func (f *fakeProvider) deliver(name string, value []byte, meta PVMeta) {
	f.mu.Lock()
	fv := f.vars[name]
	f.mu.Unlock()
	if fv != nil && fv.monCB != nil {
		fv.monCB(value, meta)
	}
}

var errConnectFailed = &fakeConnectError{}

type fakeConnectError struct{}

func (e *fakeConnectError) Error() string { return "fake: connect failed" }
