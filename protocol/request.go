package protocol

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"
)

var ErrEmptyOperation = errors.New("protocol: empty operation")

// Request is the envelope of a ledger request.
type Request struct {
	ReqID           uint64         `json:"reqId"`
	Identifier      string         `json:"identifier,omitempty"`
	Operation       map[string]any `json:"operation"`
	ProtocolVersion Version        `json:"protocolVersion"`
}

// RequestBuilder stamps ledger requests with the version currently held by
// its State.
type RequestBuilder struct {
	state *State
	seq   atomic.Uint64
}

func NewRequestBuilder(state *State) *RequestBuilder {
	if state == nil {
		state = NewState(Default)
	}
	b := &RequestBuilder{state: state}
	b.seq.Store(uint64(time.Now().UnixNano()))
	return b
}

func (b *RequestBuilder) Request(identifier string, operation map[string]any) (Request, error) {
	if len(operation) == 0 {
		return Request{}, ErrEmptyOperation
	}
	return Request{
		ReqID:           b.seq.Add(1),
		Identifier:      identifier,
		Operation:       operation,
		ProtocolVersion: b.state.Get(),
	}, nil
}

// Build returns the JSON encoding of a new request.
func (b *RequestBuilder) Build(identifier string, operation map[string]any) ([]byte, error) {
	req, err := b.Request(identifier, operation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(req)
}
