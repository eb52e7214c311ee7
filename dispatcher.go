package poolcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/TheAlpha16/poolcmd/protocol"
	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"
)

// Dispatcher executes pool commands against a Service
type Dispatcher interface {
	// Execute runs cmd to completion, or to registration for Close, and
	// delivers the outcome through the command's callback. The returned
	// error is non-nil only for malformed commands.
	Execute(ctx context.Context, cmd Command) error
	Start(ctx context.Context) error
	Shutdown() error
	IsRunning() bool
	Pending() int
}

type dispatcherImpl struct {
	service   Service
	pending   PendingTable
	protocol  *protocol.State
	transport Transport
	logger    logrus.FieldLogger
	onOrphan  OrphanAckHandler
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	started   bool
	closed    bool
	mu        sync.RWMutex
}

func (d *dispatcherImpl) Execute(ctx context.Context, cmd Command) error {
	if cmd == nil || !hasCallback(cmd) {
		return ErrInvalidCommand
	}

	switch c := cmd.(type) {
	case Create:
		d.logger.Debug("Create command received")
		c.Callback(d.create(ctx, c.Pool, c.Config))
	case Delete:
		d.logger.Debug("Delete command received")
		c.Callback(d.delete(ctx, c.Pool))
	case Open:
		d.logger.Debug("Open command received")
		c.Callback(d.open(ctx, c.Pool, c.Config))
	case List:
		d.logger.Debug("List command received")
		c.Callback(d.list(ctx))
	case Close:
		d.logger.Debug("Close command received")
		d.close(ctx, c.Handle, c.Callback)
	case CloseAck:
		d.logger.Debug("CloseAck command received")
		d.closeAck(ctx, c)
	case Refresh:
		d.logger.Debug("Refresh command received")
		c.Callback(d.refresh(ctx, c.Handle))
	case SetProtocolVersion:
		d.logger.Debug("SetProtocolVersion command received")
		c.Callback(d.setProtocolVersion(c.Version))
	default:
		return ErrInvalidCommand
	}
	return nil
}

func (d *dispatcherImpl) create(ctx context.Context, name string, config *PoolConfig) error {
	d.logger.Debugf("create >>> name: %q, config: %+v", name, config)
	if err := d.service.Create(ctx, name, config); err != nil {
		return err
	}
	d.logger.Debug("create <<<")
	return nil
}

func (d *dispatcherImpl) delete(ctx context.Context, name string) error {
	d.logger.Debugf("delete >>> name: %q", name)
	if err := d.service.Delete(ctx, name); err != nil {
		return err
	}
	d.logger.Debug("delete <<<")
	return nil
}

func (d *dispatcherImpl) open(ctx context.Context, name string, config *OpenConfig) (Handle, error) {
	d.logger.Debugf("open >>> name: %q, config: %+v", name, config)
	handle, err := d.service.Open(ctx, name, config)
	d.logger.Debugf("open <<< handle: %d", handle)
	return handle, err
}

func (d *dispatcherImpl) list(ctx context.Context) (string, error) {
	d.logger.Debug("list >>>")
	pools, err := d.service.List(ctx)
	if err != nil {
		return "", err
	}
	if pools == nil {
		pools = []PoolInfo{}
	}
	data, err := json.Marshal(pools)
	if err != nil {
		return "", fmt.Errorf("%w: can't serialize pools list: %v", ErrInvalidState, err)
	}
	d.logger.Debugf("list <<< res: %s", data)
	return string(data), nil
}

// close registers cb for the acknowledgement of the teardown the service
// begins. The service call runs outside the pending table lock; an
// acknowledgement that beats the registration is held by the table and
// delivered here.
func (d *dispatcherImpl) close(ctx context.Context, handle Handle, cb Callback) {
	d.logger.Debugf("close >>> handle: %d", handle)
	r, err := d.pending.Begin()
	if err != nil {
		d.logger.WithError(err).Warn("can't register close callback")
		cb(err)
		return
	}

	id, err := d.service.Close(ctx, handle)
	if err != nil {
		d.reportOrphans(ctx, d.pending.Cancel(r), ErrPendingNotFound)
		cb(err)
		return
	}

	settled, err := d.pending.Complete(r, id, cb)
	d.reportOrphans(ctx, settled.Orphans, ErrPendingNotFound)
	if err != nil {
		d.logger.WithError(err).WithField("id", id).Warn("can't register close callback")
		cb(err)
		return
	}
	if settled.Early != nil {
		d.logger.Debugf("close <<< acknowledged before registration, id: %s", id)
		cb(settled.Early.Result)
		return
	}
	d.logger.Debugf("close <<< pending id: %s", id)
}

func (d *dispatcherImpl) closeAck(ctx context.Context, ack CloseAck) {
	cb, held, err := d.pending.Resolve(ack)
	if err != nil {
		d.reportOrphans(ctx, []CloseAck{ack}, err)
		return
	}
	if held {
		d.logger.WithField("id", ack.ID).Debug("CloseAck held until its close registers")
		return
	}
	cb(ack.Result)
}

func (d *dispatcherImpl) reportOrphans(ctx context.Context, acks []CloseAck, err error) {
	for _, ack := range acks {
		entry := d.logger.WithError(err).WithField("id", ack.ID)
		if errors.Is(err, ErrPendingNotFound) {
			entry.Errorf("can't process CloseAck with result %v: appropriate callback not found", ack.Result)
		} else {
			entry.Error("dropping CloseAck")
		}
		d.onOrphan(ctx, ack, err)
	}
}

func (d *dispatcherImpl) refresh(ctx context.Context, handle Handle) error {
	d.logger.Debugf("refresh >>> handle: %d", handle)
	err := d.service.Refresh(ctx, handle)
	d.logger.Debug("refresh <<<")
	return err
}

func (d *dispatcherImpl) setProtocolVersion(version int) error {
	d.logger.Debugf("set_protocol_version >>> version: %d", version)
	if err := d.protocol.Set(version); err != nil {
		return err
	}
	d.logger.Debug("set_protocol_version <<<")
	return nil
}

// Start begins executing acknowledgements received from the transport
func (d *dispatcherImpl) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrDispatcherAlreadyStarted
	}
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.transport == nil {
		return ErrTransportNotConfigured
	}
	if !d.transport.IsConnected() {
		return ErrTransportNotConnected
	}

	if err := d.transport.Subscribe(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.processAcks()
	}()

	d.started = true
	return nil
}

// processAcks turns every received acknowledgement into a CloseAck
func (d *dispatcherImpl) processAcks() {
	acks := d.transport.Acks()

	for {
		select {
		case ack, ok := <-acks:
			if !ok {
				return
			}

			d.wg.Add(1)
			go func(ack Ack) {
				defer d.wg.Done()
				_ = d.Execute(d.ctx, CloseAck{ID: ack.ID, Result: ack.Err()})
			}(ack)

		case <-d.ctx.Done():
			return
		}
	}
}

func (d *dispatcherImpl) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

func (d *dispatcherImpl) Pending() int {
	return d.pending.Len()
}

// Shutdown stops the acknowledgement loop and resolves every close still
// pending with ErrDispatcherClosed.
func (d *dispatcherImpl) Shutdown() error {
	err := d.stop()

	callbacks, held := d.pending.Drain()
	for id, cb := range callbacks {
		d.logger.WithField("id", id).Warn("resolving pending close on shutdown")
		cb(ErrDispatcherClosed)
	}
	d.reportOrphans(context.Background(), held, ErrDispatcherClosed)
	return err
}

func (d *dispatcherImpl) stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	d.cancel()
	if !started {
		return nil
	}

	// Callbacks run by in-flight acknowledgements may call back into the
	// dispatcher, so the lock is not held while waiting for them.
	err := d.transport.Close()
	d.wg.Wait()

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return err
}

// NewDispatcher creates a dispatcher over service
func NewDispatcher(service Service, opts ...Option) Dispatcher {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.Protocol == nil {
		options.Protocol = protocol.NewState(protocol.Default)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcherImpl{
		service:   service,
		pending:   NewPendingTable(),
		protocol:  options.Protocol,
		transport: options.Transport,
		logger:    options.Logger.WithField("target", "pool_command_executor"),
		onOrphan:  options.OnOrphanAck,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// NewDispatcherWithValkey creates a dispatcher reading acknowledgements from
// a Valkey channel
func NewDispatcherWithValkey(service Service, client valkey.Client, channel string, opts ...Option) Dispatcher {
	transport := NewValkeyTransport(client, channel, opts...)
	all := make([]Option, 0, len(opts)+1)
	all = append(all, opts...)
	return NewDispatcher(service, append(all, WithTransport(transport))...)
}

// NewDispatcherWithValkeyAddress creates a dispatcher with a Valkey transport using an address
func NewDispatcherWithValkeyAddress(service Service, address, channel string, options ...valkey.ClientOption) (Dispatcher, error) {
	client, err := NewValkeyClient(address, options...)
	if err != nil {
		return nil, err
	}
	return NewDispatcherWithValkey(service, client, channel), nil
}
