package poolcmd

import (
	"context"
	"errors"
)

// Ack is the wire form of a close acknowledgement.
type Ack struct {
	ID      CorrelationID `json:"id"`
	Code    int           `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// NewAck builds the acknowledgement of id with the outcome err.
func NewAck(id CorrelationID, err error) Ack {
	ack := Ack{ID: id}
	if err == nil {
		return ack
	}
	var ackErr *AckError
	if errors.As(err, &ackErr) {
		ack.Code = ackErr.Code
		ack.Message = ackErr.Message
		return ack
	}
	ack.Message = err.Error()
	return ack
}

// Err translates the acknowledgement outcome into an error.
func (a Ack) Err() error {
	if a.Code == 0 && a.Message == "" {
		return nil
	}
	return &AckError{Code: a.Code, Message: a.Message}
}

// Transport carries close acknowledgements between the service and the
// dispatcher.
type Transport interface {
	// Publish sends an acknowledgement to the transport layer
	Publish(ctx context.Context, ack Ack) error

	// Subscribe starts listening for acknowledgements on the transport
	Subscribe(ctx context.Context) error

	// Acks returns the channel of received acknowledgements. It is closed
	// when the transport is closed.
	Acks() <-chan Ack

	Close() error

	IsConnected() bool
}
