package poolcmd

import (
	"context"

	"github.com/TheAlpha16/poolcmd/protocol"
	"github.com/sirupsen/logrus"
)

// OrphanAckHandler observes acknowledgements that matched no pending close.
type OrphanAckHandler func(ctx context.Context, ack CloseAck, err error)

type Option func(*Options)

type Options struct {
	MsgBufferSize int
	Logger        logrus.FieldLogger
	Transport     Transport
	Protocol      *protocol.State
	OnOrphanAck   OrphanAckHandler
}

func defaultOptions() Options {
	return Options{
		MsgBufferSize: 100,
		Logger:        logrus.StandardLogger(),
		OnOrphanAck: func(ctx context.Context, ack CloseAck, err error) {
			// Default: no-op
		},
	}
}

func WithMsgBufferSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.MsgBufferSize = size
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithTransport sets the transport the dispatcher reads acknowledgements from.
func WithTransport(transport Transport) Option {
	return func(o *Options) {
		o.Transport = transport
	}
}

// WithProtocolState shares state with the request builders that read it.
func WithProtocolState(state *protocol.State) Option {
	return func(o *Options) {
		o.Protocol = state
	}
}

func WithOnOrphanAck(handler OrphanAckHandler) Option {
	return func(o *Options) {
		if handler != nil {
			o.OnOrphanAck = handler
		}
	}
}
