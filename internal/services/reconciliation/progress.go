package reconciliation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"settlement-reconciliation-engine/internal/models"
)

// ProgressEvent is one progress update of an import session.
type ProgressEvent struct {
	SessionID uuid.UUID           `json:"session_id"`
	Step      models.SessionState `json:"step"`
	Current   int                 `json:"current"`
	Message   string              `json:"message"`
	ErrorCode string              `json:"error_code,omitempty"`
}

func (e ProgressEvent) Terminal() bool {
	return e.Step.Terminal()
}

func eventFromSession(s *models.ImportSession) ProgressEvent {
	return ProgressEvent{
		SessionID: s.ID,
		Step:      s.State,
		Current:   s.Progress,
		Message:   s.StepMessage,
		ErrorCode: s.ErrorCode,
	}
}

const subscriberBuffer = 16

type progressState struct {
	last ProgressEvent
	subs map[chan ProgressEvent]struct{}
	done bool
}

// ProgressHub fans progress events out to subscribers. Per session, Current
// never decreases and the terminal event is the last one delivered before the
// subscriber channel is closed.
type ProgressHub struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*progressState
	// retain keeps terminal states around for late subscribers.
	retain time.Duration
}

func NewProgressHub(retain time.Duration) *ProgressHub {
	return &ProgressHub{sessions: make(map[uuid.UUID]*progressState), retain: retain}
}

func (h *ProgressHub) state(id uuid.UUID) *progressState {
	st, ok := h.sessions[id]
	if !ok {
		st = &progressState{subs: make(map[chan ProgressEvent]struct{})}
		h.sessions[id] = st
	}
	return st
}

// Publish records ev and forwards it. Events after the terminal one are ignored.
func (h *ProgressHub) Publish(ev ProgressEvent) ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.state(ev.SessionID)
	if st.done {
		return st.last
	}
	if ev.Current < st.last.Current {
		ev.Current = st.last.Current
	}
	if ev.Current > 100 {
		ev.Current = 100
	}
	st.last = ev

	for ch := range st.subs {
		deliver(ch, ev, ev.Terminal())
	}
	if ev.Terminal() {
		st.done = true
		for ch := range st.subs {
			close(ch)
		}
		st.subs = nil
		if h.retain > 0 {
			id := ev.SessionID
			time.AfterFunc(h.retain, func() { h.Forget(id) })
		}
	}
	return ev
}

// deliver never blocks. A slow subscriber loses intermediate events, but a
// terminal event replaces the oldest buffered one.
func deliver(ch chan ProgressEvent, ev ProgressEvent, terminal bool) {
	select {
	case ch <- ev:
		return
	default:
	}
	if !terminal {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Subscribe returns a channel that first yields the latest known event. The
// second result is false when the hub has never seen the session.
func (h *ProgressHub) Subscribe(id uuid.UUID) (<-chan ProgressEvent, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sessions[id]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan ProgressEvent, subscriberBuffer)
	ch <- st.last
	if st.done {
		close(ch)
		return ch, func() {}, true
	}
	st.subs[ch] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, live := st.subs[ch]; live {
			delete(st.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, true
}

// Last returns the latest event of a session.
func (h *ProgressHub) Last(id uuid.UUID) (ProgressEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sessions[id]
	if !ok {
		return ProgressEvent{}, false
	}
	return st.last, true
}

func (h *ProgressHub) Forget(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.sessions[id]; ok && st.done {
		delete(h.sessions, id)
	}
}
