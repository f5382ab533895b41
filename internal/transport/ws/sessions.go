package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tableturn.gg/internal/store"
)

// session is one client's server-side state. It survives the underlying
// connection: on disconnect the session is parked for the resume window and a
// reconnecting client re-attaches with its resume token, keeping every
// interaction subscription it had.
type session struct {
	id          string
	clientID    string
	resumeToken string

	mu     sync.Mutex
	out    chan []byte
	subs   map[string]*store.Subscription
	parked time.Time // zero while a connection is attached
}

// send enqueues a frame for the writer goroutine. Delivery is best-effort:
// when the client's queue is full the frame is dropped rather than blocking
// the caller.
func (s *session) send(b []byte) {
	if b == nil {
		return
	}
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	select {
	case out <- b:
	default:
	}
}

// subscribe opens (or reuses) the session's change feed for an interaction.
// fresh is true only when a new subscription was created; the caller starts
// exactly one pump per fresh feed.
func (s *session) subscribe(interactionID string, mem *store.Memory) (sub *store.Subscription, fresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.subs[interactionID]; ok {
		return existing, false
	}
	sub = mem.Subscribe(interactionID)
	s.subs[interactionID] = sub
	return sub, true
}

func (s *session) closeSubs() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*store.Subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}

// sessionRegistry tracks live and parked sessions keyed by resume token.
type sessionRegistry struct {
	mu     sync.Mutex
	window time.Duration
	byTok  map[string]*session
}

func newSessionRegistry(window time.Duration) *sessionRegistry {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &sessionRegistry{
		window: window,
		byTok:  make(map[string]*session),
	}
}

func (r *sessionRegistry) create(clientName string, out chan []byte) *session {
	sess := &session{
		id:          uuid.NewString(),
		clientID:    clientName + "-" + uuid.NewString()[:8],
		resumeToken: uuid.NewString(),
		out:         out,
		subs:        make(map[string]*store.Subscription),
	}
	r.mu.Lock()
	r.byTok[sess.resumeToken] = sess
	r.mu.Unlock()
	return sess
}

// resume re-attaches a parked session to a new connection. Returns nil when
// the token is unknown, the session is still attached elsewhere, or the
// resume window has elapsed.
func (r *sessionRegistry) resume(token string, out chan []byte) *session {
	r.mu.Lock()
	sess, ok := r.byTok[token]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.parked.IsZero() || time.Since(sess.parked) > r.window {
		return nil
	}
	sess.parked = time.Time{}
	sess.out = out
	return sess
}

// park records the disconnect time and schedules the session for teardown if
// no client resumes it within the window.
func (r *sessionRegistry) park(sess *session) {
	sess.mu.Lock()
	sess.parked = time.Now()
	sess.mu.Unlock()

	time.AfterFunc(r.window, func() {
		sess.mu.Lock()
		expired := !sess.parked.IsZero() && time.Since(sess.parked) >= r.window
		sess.mu.Unlock()
		if expired {
			r.drop(sess)
		}
	})
}

// drop tears the session down: subscriptions closed, token forgotten.
func (r *sessionRegistry) drop(sess *session) {
	r.mu.Lock()
	delete(r.byTok, sess.resumeToken)
	r.mu.Unlock()
	sess.closeSubs()
}
