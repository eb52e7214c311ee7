// Package localpool implements poolcmd.Service over the local catalog.
// Pools are backed by genesis transaction files. Close acknowledgements are
// published asynchronously through an Acknowledger.
package localpool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/TheAlpha16/poolcmd"
	"github.com/TheAlpha16/poolcmd/internal/catalog"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidHandle     = errors.New("localpool: invalid pool handle")
	ErrPoolOpened        = errors.New("localpool: pool is opened")
	ErrPoolAlreadyOpened = errors.New("localpool: pool already opened")
	ErrGenesisNotFound   = errors.New("localpool: genesis transactions file not found")
	ErrInvalidGenesis    = errors.New("localpool: invalid genesis transactions")
	ErrPoolBusy          = errors.New("localpool: pool is being deleted")
	ErrServiceStopped    = errors.New("localpool: service stopped")
)

// Acknowledger delivers close acknowledgements to the dispatcher.
type Acknowledger interface {
	Publish(ctx context.Context, ack poolcmd.Ack) error
}

type pool struct {
	name    string
	genesis []json.RawMessage
	config  poolcmd.OpenConfig
}

type Service struct {
	catalog    *catalog.Store
	acks       Acknowledger
	genesisDir string
	logger     logrus.FieldLogger

	mu         sync.Mutex
	opened     map[poolcmd.Handle]*pool
	byName     map[string]poolcmd.Handle
	deleting   map[string]struct{}
	nextHandle poolcmd.Handle
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Service)

// WithGenesisDir sets where "<name>.txn" is looked up for pools created
// without a config.
func WithGenesisDir(dir string) Option {
	return func(s *Service) {
		s.genesisDir = dir
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store *catalog.Store, acks Acknowledger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		catalog:    store,
		acks:       acks,
		genesisDir: ".",
		logger:     logrus.StandardLogger(),
		opened:     make(map[poolcmd.Handle]*pool),
		byName:     make(map[string]poolcmd.Handle),
		deleting:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "localpool")
	return s
}

func (s *Service) Create(ctx context.Context, name string, config *poolcmd.PoolConfig) error {
	if err := catalog.ValidateName(name); err != nil {
		return err
	}
	path := filepath.Join(s.genesisDir, name+".txn")
	if config != nil && config.GenesisTxn != "" {
		path = config.GenesisTxn
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("%w: %s", ErrGenesisNotFound, abs)
	}
	return s.catalog.Create(ctx, name, abs)
}

// opening is the byName entry of a pool whose Open is still reading genesis.
const opening poolcmd.Handle = 0

// Delete removes name from the catalog. The name stays reserved while the
// catalog row is deleted so no Open can slip in between.
func (s *Service) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	if _, opened := s.byName[name]; opened {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPoolOpened, name)
	}
	if _, busy := s.deleting[name]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPoolBusy, name)
	}
	s.deleting[name] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.deleting, name)
		s.mu.Unlock()
	}()
	return s.catalog.Delete(ctx, name)
}

func (s *Service) Open(ctx context.Context, name string, config *poolcmd.OpenConfig) (poolcmd.Handle, error) {
	s.mu.Lock()
	if _, busy := s.deleting[name]; busy {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrPoolBusy, name)
	}
	if _, ok := s.byName[name]; ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", ErrPoolAlreadyOpened, name)
	}
	s.byName[name] = opening
	s.mu.Unlock()

	genesis, err := s.loadGenesis(ctx, name)
	if err != nil {
		s.mu.Lock()
		delete(s.byName, name)
		s.mu.Unlock()
		return 0, err
	}

	p := &pool{name: name, genesis: genesis}
	if config != nil {
		p.config = *config
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	handle := s.nextHandle
	s.opened[handle] = p
	s.byName[name] = handle
	s.logger.WithFields(logrus.Fields{"pool": name, "handle": handle, "txns": len(genesis)}).Debug("pool opened")
	return handle, nil
}

func (s *Service) loadGenesis(ctx context.Context, name string) ([]json.RawMessage, error) {
	entry, err := s.catalog.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return readGenesis(ctx, entry.GenesisTxn)
}

func (s *Service) List(ctx context.Context) ([]poolcmd.PoolInfo, error) {
	pools, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]poolcmd.PoolInfo, 0, len(pools))
	for _, p := range pools {
		infos = append(infos, poolcmd.PoolInfo{Pool: p.Name})
	}
	return infos, nil
}

// Close detaches handle and acknowledges the teardown from a separate
// goroutine.
func (s *Service) Close(ctx context.Context, handle poolcmd.Handle) (poolcmd.CorrelationID, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrServiceStopped
	}
	p, ok := s.opened[handle]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	delete(s.opened, handle)
	delete(s.byName, p.name)
	s.wg.Add(1)
	s.mu.Unlock()

	id := poolcmd.CorrelationID(uuid.NewString())
	go func() {
		defer s.wg.Done()
		if err := s.acks.Publish(s.ctx, poolcmd.NewAck(id, nil)); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"pool": p.name, "id": id}).Error("can't acknowledge close")
		}
	}()
	return id, nil
}

// Refresh reloads the genesis transactions of an opened pool.
func (s *Service) Refresh(ctx context.Context, handle poolcmd.Handle) error {
	s.mu.Lock()
	p, ok := s.opened[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}

	genesis, err := s.loadGenesis(ctx, p.name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p.genesis = genesis
	s.mu.Unlock()
	return nil
}

// Wait rejects further closes, cancels the acknowledgements in flight and
// waits for their publishes to return.
func (s *Service) Wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// readGenesis reads one JSON transaction per non-empty line.
func readGenesis(ctx context.Context, path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGenesisNotFound, path)
	}
	defer f.Close()

	var txns []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: line %d of %s", ErrInvalidGenesis, line, path)
		}
		txns = append(txns, json.RawMessage(append([]byte(nil), raw...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidGenesis, path)
	}
	return txns, nil
}
