// Package undo is the undo collaborator: reversible action descriptors
// and a bounded stack that invokes their inverse on request.
package undo

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by Undo when nothing can be undone.
var ErrEmpty = errors.New("undo: nothing to undo")

// Action is a reversible operation. Undo applies the inverse.
type Action struct {
	Name string
	Undo func() error
}

// Manager receives reversible actions.
type Manager interface {
	Register(a Action)
}

// Discard ignores every action.
type Discard struct{}

func (Discard) Register(Action) {}

// Stack is a bounded LIFO of actions. The oldest action is dropped when
// the limit is reached.
type Stack struct {
	limit   int
	actions []Action
}

var _ Manager = (*Stack)(nil)

// NewStack returns a stack holding at most limit actions; zero means 100.
func NewStack(limit int) *Stack {
	if limit <= 0 {
		limit = 100
	}
	return &Stack{limit: limit}
}

func (s *Stack) Register(a Action) {
	if len(s.actions) == s.limit {
		s.actions = s.actions[1:]
	}
	s.actions = append(s.actions, a)
}

// Len returns the number of undoable actions.
func (s *Stack) Len() int { return len(s.actions) }

// Peek returns the name of the next action to undo.
func (s *Stack) Peek() (string, bool) {
	if len(s.actions) == 0 {
		return "", false
	}
	return s.actions[len(s.actions)-1].Name, true
}

// Undo pops the most recent action and applies its inverse.
func (s *Stack) Undo() (string, error) {
	if len(s.actions) == 0 {
		return "", ErrEmpty
	}
	a := s.actions[len(s.actions)-1]
	s.actions = s.actions[:len(s.actions)-1]
	if err := a.Undo(); err != nil {
		return a.Name, fmt.Errorf("undo %s: %w", a.Name, err)
	}
	return a.Name, nil
}
