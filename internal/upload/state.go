package upload

import (
	"errors"
	"fmt"
	"sync"
)

// State is a step of the submission pipeline.
type State string

// Submission states.
const (
	StateIdle            State = "idle"
	StateTicketRequested State = "ticket_requested"
	StateUploading       State = "uploading"
	StateUploaded        State = "uploaded"
	StateIdentifying     State = "identifying"
	StateIdentified      State = "identified"
	StateFailed          State = "failed"
)

// ErrInvalidTransition is returned for a move the pipeline does not allow.
var ErrInvalidTransition = errors.New("invalid submission state transition")

var transitions = map[State][]State{
	StateIdle:            {StateTicketRequested},
	StateTicketRequested: {StateUploading, StateIdle},
	StateUploading:       {StateUploaded, StateIdle},
	StateUploaded:        {StateIdentifying},
	StateIdentifying:     {StateIdentified, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateIdentified || s == StateFailed
}

// Submission tracks one image through the pipeline. Failures before the
// object is stored return it to Idle and drop the ticket; failures while
// identifying end in Failed and leave the object orphaned.
type Submission struct {
	mu      sync.Mutex
	state   State
	ticket  *Ticket
	history []State
	onMove  func(from, to State)
}

// NewSubmission starts a submission in Idle. onMove, if set, is called after
// each transition.
func NewSubmission(onMove func(from, to State)) *Submission {
	return &Submission{state: StateIdle, history: []State{StateIdle}, onMove: onMove}
}

// State returns the current state.
func (s *Submission) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticket returns the ticket held by the submission, if any.
func (s *Submission) Ticket() *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticket
}

// History returns every state visited, oldest first.
func (s *Submission) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

// Transition moves to next if allowed.
func (s *Submission) Transition(next State) error {
	s.mu.Lock()
	from := s.state
	if !allowed(from, next) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	s.state = next
	s.history = append(s.history, next)
	if next == StateIdle {
		s.ticket = nil
	}
	s.mu.Unlock()

	if s.onMove != nil {
		s.onMove(from, next)
	}
	return nil
}

// AttachTicket records the issued ticket. Only valid in TicketRequested.
func (s *Submission) AttachTicket(t *Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTicketRequested {
		return fmt.Errorf("%w: cannot attach ticket in %s", ErrInvalidTransition, s.state)
	}
	s.ticket = t
	return nil
}

// Fail applies the failure rule for the current state: back to Idle before
// the upload completes, Failed while identifying.
func (s *Submission) Fail() error {
	switch s.State() {
	case StateTicketRequested, StateUploading:
		return s.Transition(StateIdle)
	case StateIdentifying:
		return s.Transition(StateFailed)
	default:
		return fmt.Errorf("%w: cannot fail from %s", ErrInvalidTransition, s.State())
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
