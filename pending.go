package poolcmd

import (
	"fmt"
	"sync"
)

// maxHeldAcks bounds the acknowledgements kept for closes that have not
// registered yet. Past it, unknown ids are reported as orphans right away.
const maxHeldAcks = 1024

// Reservation marks a close whose service call is in flight and whose
// correlation id is not known yet.
type Reservation uint64

// Settlement is what completing a reservation leaves for the caller to
// deliver once the table lock is released.
type Settlement struct {
	// Early is set when the acknowledgement for the registered id arrived
	// before the registration. The callback was not stored.
	Early *CloseAck
	// Orphans are held acknowledgements no reservation can claim anymore.
	Orphans []CloseAck
}

// PendingTable maps correlation ids of closes in progress to the callbacks
// awaiting their acknowledgement. No method calls out while holding the lock.
type PendingTable interface {
	// Begin reserves a slot for a close before its service call is made.
	Begin() (Reservation, error)
	// Complete settles r by storing cb under id. An id that is already
	// pending is rejected and the existing entry is kept.
	Complete(r Reservation, id CorrelationID, cb Callback) (Settlement, error)
	// Cancel settles r without registering anything and returns the held
	// acknowledgements that became orphans.
	Cancel(r Reservation) []CloseAck
	// Resolve removes and returns the callback registered under ack.ID. An
	// unknown id is held while a reservation could still register it, in
	// which case held is true.
	Resolve(ack CloseAck) (cb Callback, held bool, err error)
	Len() int
	// Drain closes the table and returns every entry still pending along
	// with the acknowledgements still held.
	Drain() (map[CorrelationID]Callback, []CloseAck)
}

type heldAck struct {
	ack CloseAck
	// horizon is the last reservation issued when the ack arrived. Only
	// reservations up to it can claim the ack.
	horizon Reservation
}

type pendingTableImpl struct {
	callbacks   map[CorrelationID]Callback
	held        map[CorrelationID]heldAck
	outstanding map[Reservation]struct{}
	last        Reservation
	closed      bool
	mu          sync.Mutex
}

func (p *pendingTableImpl) Begin() (Reservation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPendingTableClosed
	}
	p.last++
	p.outstanding[p.last] = struct{}{}
	return p.last, nil
}

func (p *pendingTableImpl) Complete(r Reservation, id CorrelationID, cb Callback) (Settlement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Settlement{}, ErrPendingTableClosed
	}
	delete(p.outstanding, r)

	var (
		s   Settlement
		err error
	)
	if _, exists := p.callbacks[id]; exists {
		err = fmt.Errorf("%w: %s", ErrDuplicateCorrelation, id)
	} else if h, ok := p.held[id]; ok {
		delete(p.held, id)
		s.Early = &h.ack
	} else {
		p.callbacks[id] = cb
	}
	s.Orphans = p.expire()
	return s, err
}

func (p *pendingTableImpl) Cancel(r Reservation) []CloseAck {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.outstanding, r)
	return p.expire()
}

// expire removes the held acks whose claiming reservations have all settled.
func (p *pendingTableImpl) expire() []CloseAck {
	if len(p.held) == 0 {
		return nil
	}
	lowest := Reservation(^uint64(0))
	for r := range p.outstanding {
		lowest = min(lowest, r)
	}
	var orphans []CloseAck
	for id, h := range p.held {
		if h.horizon < lowest {
			orphans = append(orphans, h.ack)
			delete(p.held, id)
		}
	}
	return orphans
}

func (p *pendingTableImpl) Resolve(ack CloseAck) (Callback, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false, ErrPendingTableClosed
	}
	if cb, ok := p.callbacks[ack.ID]; ok {
		delete(p.callbacks, ack.ID)
		return cb, false, nil
	}
	if _, dup := p.held[ack.ID]; dup || len(p.outstanding) == 0 || len(p.held) >= maxHeldAcks {
		return nil, false, ErrPendingNotFound
	}
	p.held[ack.ID] = heldAck{ack: ack, horizon: p.last}
	return nil, true, nil
}

func (p *pendingTableImpl) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.callbacks)
}

func (p *pendingTableImpl) Drain() (map[CorrelationID]Callback, []CloseAck) {
	p.mu.Lock()
	defer p.mu.Unlock()
	drained := p.callbacks
	var held []CloseAck
	for _, h := range p.held {
		held = append(held, h.ack)
	}
	p.callbacks = make(map[CorrelationID]Callback)
	p.held = make(map[CorrelationID]heldAck)
	p.outstanding = make(map[Reservation]struct{})
	p.closed = true
	return drained, held
}

func NewPendingTable() PendingTable {
	return &pendingTableImpl{
		callbacks:   make(map[CorrelationID]Callback),
		held:        make(map[CorrelationID]heldAck),
		outstanding: make(map[Reservation]struct{}),
	}
}
