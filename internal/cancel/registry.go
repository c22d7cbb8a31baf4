package cancel

import (
	"sync"
	"time"
)

// Scope is a level in the fixed cancellation hierarchy:
// goal -> work_item -> run.
type Scope string

const (
	ScopeGoal     Scope = "goal"
	ScopeWorkItem Scope = "work_item"
	ScopeRun      Scope = "run"
)

// EventKind distinguishes registry notifications.
type EventKind string

const (
	EventTimeout EventKind = "timeout" // Emitted before the abort when a token's timer expires
	EventAbort   EventKind = "abort"
)

// Event describes one cancellation notification.
type Event struct {
	Kind   EventKind
	Scope  Scope
	ID     string
	Reason string
}

// Token is a cooperative cancellation handle for one (scope, id) pair.
// Execution code selects on Done(); the scheduler cannot force-preempt, only
// record the cancellation and proceed with cleanup.
type Token struct {
	scope       Scope
	id          string
	parentScope Scope
	parentID    string

	mu        sync.Mutex
	cancelled bool
	reason    string
	done      chan struct{}
	timer     *time.Timer
}

// Done returns a channel closed when the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Reason returns the cancellation reason, empty while the token is live.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// cancel flips the token exactly once. Returns false if already cancelled.
func (t *Token) cancel(reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancelled {
		return false
	}
	t.cancelled = true
	t.reason = reason
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	close(t.done)
	return true
}

type tokenKey struct {
	scope Scope
	id    string
}

// Options configures token registration.
type Options struct {
	ParentScope Scope
	ParentID    string
	Timeout     time.Duration // 0 means no timeout
}

// Registry owns hierarchical cancellation tokens. Aborting a parent cascades
// to every registered child before returning.
type Registry struct {
	mu        sync.Mutex
	tokens    map[tokenKey]*Token
	listeners []func(Event)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[tokenKey]*Token)}
}

// Notify registers a listener for timeout and abort events. Listeners are
// invoked outside the registry lock, in registration order.
func (r *Registry) Notify(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Register creates (or returns) the token for (scope, id). Idempotent:
// re-registering an existing pair returns the existing token untouched.
// A positive timeout arms a timer that auto-aborts the token with reason
// "timeout exceeded" on expiry.
func (r *Registry) Register(scope Scope, id string, opts Options) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tokenKey{scope, id}
	if existing, ok := r.tokens[key]; ok {
		return existing
	}

	t := &Token{
		scope:       scope,
		id:          id,
		parentScope: opts.ParentScope,
		parentID:    opts.ParentID,
		done:        make(chan struct{}),
	}
	if opts.Timeout > 0 {
		t.timer = time.AfterFunc(opts.Timeout, func() {
			r.expire(scope, id)
		})
	}
	r.tokens[key] = t
	return t
}

// Get returns the registered token for (scope, id).
func (r *Registry) Get(scope Scope, id string) (*Token, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenKey{scope, id}]
	return t, ok
}

// IsCancelled reports whether the (scope, id) token exists and is cancelled.
func (r *Registry) IsCancelled(scope Scope, id string) bool {
	t, ok := r.Get(scope, id)
	return ok && t.Cancelled()
}

// Abort cancels the (scope, id) token and recursively every registered
// descendant. Returns the number of tokens newly cancelled across the whole
// subtree; aborting an already-cancelled token contributes 0.
func (r *Registry) Abort(scope Scope, id string, reason string) int {
	r.mu.Lock()
	var events []Event
	count := r.abortLocked(scope, id, reason, &events)
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()

	for _, ev := range events {
		for _, fn := range listeners {
			fn(ev)
		}
	}
	return count
}

// abortLocked cancels the token and its subtree depth-first. Caller holds r.mu.
func (r *Registry) abortLocked(scope Scope, id string, reason string, events *[]Event) int {
	count := 0
	if t, ok := r.tokens[tokenKey{scope, id}]; ok {
		if t.cancel(reason) {
			count++
			*events = append(*events, Event{Kind: EventAbort, Scope: scope, ID: id, Reason: reason})
		}
	}
	for _, child := range r.childrenLocked(scope, id) {
		count += r.abortLocked(child.scope, child.id, reason, events)
	}
	return count
}

// expire handles a timeout firing: a distinct timeout event precedes the
// normal abort events.
func (r *Registry) expire(scope Scope, id string) {
	r.mu.Lock()
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()

	ev := Event{Kind: EventTimeout, Scope: scope, ID: id, Reason: "timeout exceeded"}
	for _, fn := range listeners {
		fn(ev)
	}

	r.Abort(scope, id, "timeout exceeded")
}

// Unregister removes a single token without cancelling it.
func (r *Registry) Unregister(scope Scope, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(scope, id)
}

// UnregisterChildren removes every registered descendant of (parentScope,
// parentID) without cancelling them. Bulk cleanup used once a parent's
// execution context is fully torn down, so the registry does not grow
// without bound. Returns the number of tokens removed.
func (r *Registry) UnregisterChildren(parentScope Scope, parentID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, child := range r.childrenLocked(parentScope, parentID) {
		removed += r.removeSubtreeLocked(child.scope, child.id)
	}
	return removed
}

func (r *Registry) removeSubtreeLocked(scope Scope, id string) int {
	removed := 0
	for _, child := range r.childrenLocked(scope, id) {
		removed += r.removeSubtreeLocked(child.scope, child.id)
	}
	if r.removeLocked(scope, id) {
		removed++
	}
	return removed
}

func (r *Registry) removeLocked(scope Scope, id string) bool {
	key := tokenKey{scope, id}
	t, ok := r.tokens[key]
	if !ok {
		return false
	}
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	delete(r.tokens, key)
	return true
}

func (r *Registry) childrenLocked(parentScope Scope, parentID string) []*Token {
	var children []*Token
	for _, t := range r.tokens {
		if t.parentScope == parentScope && t.parentID == parentID {
			children = append(children, t)
		}
	}
	return children
}

// Size returns the number of registered tokens.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
