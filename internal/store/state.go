// Package store holds the client-side domain stores. Each store caches the
// last fetched collection, reconciles it with the rows the backend returns,
// and tracks whether a call is in flight and the last error message.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotSignedIn      = errors.New("no user logged in")
	ErrUsernameTooShort = errors.New("username must be at least 3 characters")
)

const minUsernameLength = 3

// UserSource reports the id of the signed-in user, or "" if there is none.
type UserSource interface {
	CurrentUserID() string
}

// Recorder receives store operation outcomes.
type Recorder interface {
	ObserveStoreOp(store, op string, err error)
	ObserveUpload(count int, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStoreOp(string, string, error) {}
func (nopRecorder) ObserveUpload(int, error)             {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

// callState is the loading/error bookkeeping shared by every store. Loading
// is reported while any call is in flight.
type callState struct {
	name string
	rec  Recorder

	mu       sync.RWMutex
	inFlight int
	errMsg   string
}

// begin marks a call as started and clears the previous error.
func (s *callState) begin() {
	s.mu.Lock()
	s.inFlight++
	s.errMsg = ""
	s.mu.Unlock()
}

// end marks the call op as finished, recording err's message if non-nil.
func (s *callState) end(op string, err error) {
	s.mu.Lock()
	s.inFlight--
	if err != nil {
		s.errMsg = err.Error()
	}
	s.mu.Unlock()
	s.rec.ObserveStoreOp(s.name, op, err)
}

// fail records a precondition failure of op without starting a call.
func (s *callState) fail(op string, err error) error {
	s.mu.Lock()
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.rec.ObserveStoreOp(s.name, op, err)
	return err
}

func (s *callState) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// Err returns the message of the last failed call, or "".
func (s *callState) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

// mergeRow overlays every key present in the JSON encoding of update onto
// cached, nulls included. Keys update leaves out keep their cached value.
func mergeRow[T any](cached, update T) (T, error) {
	base, err := toFields(cached)
	if err != nil {
		return cached, err
	}
	patch, err := toFields(update)
	if err != nil {
		return cached, err
	}
	for k, v := range patch {
		base[k] = v
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return cached, fmt.Errorf("failed to encode merged row: %w", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return cached, fmt.Errorf("failed to decode merged row: %w", err)
	}
	return out, nil
}

func toFields(v any) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return fields, nil
}
