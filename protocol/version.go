// Package protocol holds the ledger wire protocol generation shared by every
// request builder of a process.
package protocol

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Version is a ledger wire protocol generation.
type Version int

const (
	V1 Version = 1
	V2 Version = 2

	Default = V2
)

var ErrIncompatibleVersion = errors.New("protocol: incompatible protocol version")

// Validate converts v into a supported Version.
func Validate(v int) (Version, error) {
	switch Version(v) {
	case V1, V2:
		return Version(v), nil
	}
	return 0, fmt.Errorf("%w: unsupported protocol version: %d", ErrIncompatibleVersion, v)
}

// State is the protocol version in effect. The zero value reads as Default.
type State struct {
	v atomic.Int64
}

func NewState(v Version) *State {
	s := &State{}
	s.v.Store(int64(v))
	return s
}

func (s *State) Get() Version {
	if v := s.v.Load(); v != 0 {
		return Version(v)
	}
	return Default
}

// Set stores v after validating it. An unsupported value leaves the state
// unchanged.
func (s *State) Set(v int) error {
	version, err := Validate(v)
	if err != nil {
		return err
	}
	s.v.Store(int64(version))
	return nil
}
