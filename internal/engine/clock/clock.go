// Package clock tracks segmented progress and threat clocks.
package clock

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes clocks that work for the player from clocks that work
// against them.
type Kind string

const (
	KindProgress Kind = "progress"
	KindThreat   Kind = "threat"
)

// ErrNotFound indicates the referenced clock does not exist.
var ErrNotFound = errors.New("clock not found")

// ErrInvalidSegments indicates a clock was created with a non-positive max.
var ErrInvalidSegments = errors.New("clock segments must be positive")

// ErrEmptyName indicates a clock was created without a name.
var ErrEmptyName = errors.New("clock name is required")

// Clock is a multi-step tracker that fires exactly once when it fills.
type Clock struct {
	ID       string
	Name     string
	Kind     Kind
	Filled   int
	Segments int
	// Trigger describes the narrative consequence enqueued when the clock
	// fires. The clock set never applies it; callers react to FireEvents.
	Trigger string
	Fired   bool
}

// Full reports whether every segment is filled.
func (c *Clock) Full() bool {
	return c.Filled >= c.Segments
}

// FireEvent describes a clock reaching its final segment.
type FireEvent struct {
	ClockID string
	Name    string
	Kind    Kind
	Trigger string
}

// Set owns an ordered collection of clocks.
type Set struct {
	clocks []*Clock
	nextID int
}

// NewSet creates an empty clock set.
func NewSet() *Set {
	return &Set{}
}

// Add creates a clock and returns it.
func (s *Set) Add(name string, kind Kind, segments int, trigger string) (*Clock, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if segments <= 0 {
		return nil, ErrInvalidSegments
	}
	if kind != KindProgress && kind != KindThreat {
		kind = KindThreat
	}
	s.nextID++
	c := &Clock{
		ID:       fmt.Sprintf("clock_%d", s.nextID),
		Name:     name,
		Kind:     kind,
		Segments: segments,
		Trigger:  strings.TrimSpace(trigger),
	}
	s.clocks = append(s.clocks, c)
	return c, nil
}

// Restore re-attaches a loaded clock, keeping ID allocation ahead of it.
func (s *Set) Restore(c Clock) {
	clone := c
	s.clocks = append(s.clocks, &clone)
	var n int
	if _, err := fmt.Sscanf(c.ID, "clock_%d", &n); err == nil && n > s.nextID {
		s.nextID = n
	}
}

// Get returns the clock with the given id.
func (s *Set) Get(id string) (*Clock, error) {
	for _, c := range s.clocks {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// All returns the clocks in creation order.
func (s *Set) All() []*Clock {
	return s.clocks
}

// FirstOpenThreat returns the first threat clock that has not filled.
func (s *Set) FirstOpenThreat() (*Clock, bool) {
	for _, c := range s.clocks {
		if c.Kind == KindThreat && !c.Full() {
			return c, true
		}
	}
	return nil, false
}

// Advance fills a clock by amount, clamped to its segment count.
//
// A FireEvent is returned only on the transition that fills the final
// segment; once a clock has fired it cannot fire again unless Reset.
func (s *Set) Advance(id string, amount int) (FireEvent, bool, error) {
	c, err := s.Get(id)
	if err != nil {
		return FireEvent{}, false, err
	}
	if amount <= 0 {
		return FireEvent{}, false, nil
	}
	c.Filled += amount
	if c.Filled > c.Segments {
		c.Filled = c.Segments
	}
	if c.Full() && !c.Fired {
		c.Fired = true
		return FireEvent{ClockID: c.ID, Name: c.Name, Kind: c.Kind, Trigger: c.Trigger}, true, nil
	}
	return FireEvent{}, false, nil
}

// SetFill forces a clock's fill level without firing it. Used by snapshot
// restoration, where consequences are being reversed rather than applied.
func (s *Set) SetFill(id string, filled int) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}
	if filled < 0 {
		filled = 0
	}
	if filled > c.Segments {
		filled = c.Segments
	}
	c.Filled = filled
	if !c.Full() {
		c.Fired = false
	}
	return nil
}

// Reset empties a clock and re-arms its fire trigger.
func (s *Set) Reset(id string) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}
	c.Filled = 0
	c.Fired = false
	return nil
}

// Clone deep-copies the set.
func (s *Set) Clone() *Set {
	out := &Set{nextID: s.nextID}
	out.clocks = make([]*Clock, len(s.clocks))
	for i, c := range s.clocks {
		clone := *c
		out.clocks[i] = &clone
	}
	return out
}
