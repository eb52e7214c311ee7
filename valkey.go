package poolcmd

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valkey-io/valkey-go"
)

type ValkeyTransport struct {
	client       valkey.Client
	channel      string
	ctx          context.Context
	cancel       context.CancelFunc
	mu           sync.RWMutex
	isSubscribed bool
	connected    bool
	ackChan      chan Ack
	done         chan struct{}
	once         sync.Once
	logger       logrus.FieldLogger
}

// Publish publishes an acknowledgement to the valkey channel
func (t *ValkeyTransport) Publish(ctx context.Context, ack Ack) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.connected {
		return ErrTransportNotConnected
	}

	data, err := json.Marshal(ack)
	if err != nil {
		return ErrInvalidCommand
	}

	cmd := t.client.B().Publish().Channel(t.channel).Message(string(data)).Build()
	if err := t.client.Do(ctx, cmd).Error(); err != nil {
		t.logger.WithError(err).WithField("id", ack.ID).Error("publish acknowledgement")
		return ErrPublishFailed
	}

	return nil
}

// Subscribe starts subscribing to the valkey channel
func (t *ValkeyTransport) Subscribe(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isSubscribed {
		return nil
	}

	if !t.connected {
		return ErrTransportNotConnected
	}

	go t.subscriptionLoop()

	t.isSubscribed = true
	return nil
}

// subscriptionLoop keeps a subscription open until the transport closes,
// reconnecting with exponential backoff
func (t *ValkeyTransport) subscriptionLoop() {
	defer func() {
		t.mu.Lock()
		t.isSubscribed = false
		close(t.ackChan)
		t.mu.Unlock()
	}()

	subscribe := t.client.B().Subscribe().Channel(t.channel).Build()
	retry := newBackoff(100*time.Millisecond, 30*time.Second)

	for !t.shouldStop() {
		// Blocks until the connection drops or ctx is cancelled
		err := t.client.Receive(t.ctx, subscribe, t.handleMessage)
		if t.shouldStop() {
			return
		}

		var wait time.Duration
		if err != nil {
			wait = retry.next()
			t.logger.WithError(err).Warnf("subscription to %s lost, retrying in %s", t.channel, wait)
		} else {
			wait = retry.reset()
		}
		t.sleep(wait)
	}
}

type backoff struct {
	min, max, cur time.Duration
}

func newBackoff(lo, hi time.Duration) *backoff {
	return &backoff{min: lo, max: hi, cur: lo}
}

// next returns the current delay and doubles it up to max.
func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur = min(b.cur*2, b.max)
	return d
}

func (b *backoff) reset() time.Duration {
	b.cur = b.min
	return b.min
}

// handleMessage decodes one acknowledgement from the subscription
func (t *ValkeyTransport) handleMessage(msg valkey.PubSubMessage) {
	if msg.Channel != t.channel {
		return
	}

	var ack Ack
	if err := json.Unmarshal([]byte(msg.Message), &ack); err != nil {
		t.logger.WithError(err).Warn("dropping malformed acknowledgement")
		return
	}
	if ack.ID == "" {
		t.logger.Warn("dropping acknowledgement without id")
		return
	}

	select {
	case t.ackChan <- ack:
	case <-t.done:
	case <-t.ctx.Done():
	default:
		// An acknowledgement dropped here leaves its close pending.
		t.logger.WithField("id", ack.ID).Error("acknowledgement buffer full, dropping")
	}
}

// Acks returns a channel that receives acknowledgements from the transport
func (t *ValkeyTransport) Acks() <-chan Ack {
	return t.ackChan
}

// Close shuts down the valkey transport and cleans up resources
func (t *ValkeyTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	t.once.Do(func() {
		close(t.done)
		t.cancel()
		t.client.Close()
		t.connected = false
	})

	return nil
}

// IsConnected returns true if the transport is connected and ready
func (t *ValkeyTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *ValkeyTransport) shouldStop() bool {
	select {
	case <-t.done:
		return true
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

func (t *ValkeyTransport) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.done:
	}
}

// NewValkeyClient creates a new valkey client with common configuration
func NewValkeyClient(address string, options ...valkey.ClientOption) (valkey.Client, error) {
	clientOption := valkey.ClientOption{
		InitAddress: []string{address},
	}
	if len(options) > 0 {
		clientOption = options[0]
		if len(clientOption.InitAddress) == 0 {
			clientOption.InitAddress = []string{address}
		}
	}

	return valkey.NewClient(clientOption)
}

// NewValkeyTransport creates a new valkey transport instance
func NewValkeyTransport(client valkey.Client, channel string, opts ...Option) *ValkeyTransport {
	ctx, cancel := context.WithCancel(context.Background())

	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &ValkeyTransport{
		client:    client,
		channel:   channel,
		ctx:       ctx,
		cancel:    cancel,
		connected: true,
		ackChan:   make(chan Ack, options.MsgBufferSize),
		done:      make(chan struct{}),
		logger:    options.Logger.WithField("transport", "valkey"),
	}
}
