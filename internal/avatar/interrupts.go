package avatar

import "sync"

// InterruptState tracks the barge-in flags for one session's audio stream.
type InterruptState struct {
	StopRequested bool
	Interrupting  bool
	Streaming     bool
}

// entry is the internal record for one session. defunct marks an entry
// whose session closed while a stream was still running; the entry is
// removed once that stream winds down.
type entry struct {
	InterruptState
	defunct bool
}

// InterruptStore is a process-wide table of per-session interrupt flags.
// The pacer polls it between frames; whichever component requests a
// barge-in writes to it. Safe for concurrent use across sessions.
type InterruptStore struct {
	mu     sync.Mutex
	states map[string]*entry
}

// NewInterruptStore creates an empty interrupt flag store.
func NewInterruptStore() *InterruptStore {
	return &InterruptStore{
		states: make(map[string]*entry),
	}
}

func (s *InterruptStore) get(sessionID string) *entry {
	e, ok := s.states[sessionID]
	if !ok {
		e = &entry{}
		s.states[sessionID] = e
	}
	return e
}

// Interrupt requests cancellation of the session's in-flight stream. It
// returns false when the session was already being interrupted, so callers
// can skip duplicate side effects on a redundant barge-in.
func (s *InterruptStore) Interrupt(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(sessionID)
	if e.StopRequested && e.Interrupting {
		return false
	}
	e.StopRequested = true
	e.Interrupting = true
	return true
}

// StopRequested reports whether cancellation has been requested for the
// session. The flag stays set until the next stream begins.
func (s *InterruptStore) StopRequested(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[sessionID]
	return ok && e.StopRequested
}

// Reset clears all flags for the session.
func (s *InterruptStore) Reset(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[sessionID] = &entry{}
}

// BeginStream atomically claims the session's single stream slot,
// clearing any stale flags left by the previous run. It returns false
// while another stream is active: a session paces at most one stream at
// a time.
func (s *InterruptStore) BeginStream(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(sessionID)
	if e.Streaming {
		return false
	}
	*e = entry{InterruptState: InterruptState{Streaming: true}}
	return true
}

// EndStream releases the stream slot. An entry whose session closed
// mid-stream, or that carries no flags worth keeping, is removed; a
// pending interrupt on a live session survives until the next
// BeginStream.
func (s *InterruptStore) EndStream(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[sessionID]
	if !ok {
		return
	}
	e.Streaming = false
	if e.defunct || (!e.StopRequested && !e.Interrupting) {
		delete(s.states, sessionID)
	}
}

// State returns a snapshot of the session's flags.
func (s *InterruptStore) State(sessionID string) InterruptState {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[sessionID]
	if !ok {
		return InterruptState{}
	}
	return e.InterruptState
}

// Cleanup removes the session's entry. Called when a session ends. If a
// stream is still running, the stop flag is raised so the pacer aborts
// within one pacing interval, and the entry is removed by that run's
// EndStream instead of leaking.
func (s *InterruptStore) Cleanup(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.states[sessionID]
	if !ok {
		return
	}
	if e.Streaming {
		e.StopRequested = true
		e.Interrupting = true
		e.defunct = true
		return
	}
	delete(s.states, sessionID)
}
