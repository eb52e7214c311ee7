package poolcmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MockTransport implements the Transport interface for testing
type MockTransport struct {
	mu         sync.RWMutex
	published  []Ack
	connected  bool
	subscribed bool
	ackChan    chan Ack
	closedChan chan struct{}
	once       sync.Once
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		published:  make([]Ack, 0),
		connected:  true,
		ackChan:    make(chan Ack, 100),
		closedChan: make(chan struct{}),
	}
}

func (m *MockTransport) Publish(ctx context.Context, ack Ack) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrPublishFailed
	}

	m.published = append(m.published, ack)

	// Simulate delivery by looping back to our own channel
	select {
	case m.ackChan <- ack:
	case <-m.closedChan:
	default:
	}

	return nil
}

func (m *MockTransport) Subscribe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrSubscribeFailed
	}

	m.subscribed = true
	return nil
}

func (m *MockTransport) Acks() <-chan Ack {
	return m.ackChan
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.once.Do(func() {
		close(m.closedChan)
		close(m.ackChan)
		m.connected = false
		m.subscribed = false
	})

	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockTransport) Published() []Ack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Ack, len(m.published))
	copy(result, m.published)
	return result
}

var errUnknownPool = errors.New("fake: unknown pool")

// fakeService is an in-memory Service. Any of the fn fields overrides the
// default behavior of its operation.
type fakeService struct {
	mu         sync.Mutex
	pools      map[string]*PoolConfig
	open       map[Handle]string
	nextHandle Handle

	openFn    func(ctx context.Context, name string) (Handle, error)
	listFn    func(ctx context.Context) ([]PoolInfo, error)
	closeFn   func(ctx context.Context, handle Handle) (CorrelationID, error)
	refreshFn func(ctx context.Context, handle Handle) error
}

func newFakeService() *fakeService {
	return &fakeService{
		pools: make(map[string]*PoolConfig),
		open:  make(map[Handle]string),
	}
}

func (f *fakeService) Create(ctx context.Context, name string, config *PoolConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[name]; ok {
		return fmt.Errorf("fake: pool %q exists", name)
	}
	f.pools[name] = config
	return nil
}

func (f *fakeService) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[name]; !ok {
		return errUnknownPool
	}
	delete(f.pools, name)
	return nil
}

func (f *fakeService) Open(ctx context.Context, name string, config *OpenConfig) (Handle, error) {
	if f.openFn != nil {
		return f.openFn(ctx, name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[name]; !ok {
		return 0, errUnknownPool
	}
	f.nextHandle++
	f.open[f.nextHandle] = name
	return f.nextHandle, nil
}

func (f *fakeService) List(ctx context.Context) ([]PoolInfo, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var pools []PoolInfo
	for name := range f.pools {
		pools = append(pools, PoolInfo{Pool: name})
	}
	return pools, nil
}

func (f *fakeService) Close(ctx context.Context, handle Handle) (CorrelationID, error) {
	if f.closeFn != nil {
		return f.closeFn(ctx, handle)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[handle]; !ok {
		return "", fmt.Errorf("fake: invalid handle %d", handle)
	}
	delete(f.open, handle)
	return CorrelationID(fmt.Sprintf("close-%d", handle)), nil
}

func (f *fakeService) Refresh(ctx context.Context, handle Handle) error {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, handle)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.open[handle]; !ok {
		return fmt.Errorf("fake: invalid handle %d", handle)
	}
	return nil
}
