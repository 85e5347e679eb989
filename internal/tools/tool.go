package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrUnknownAction      = errors.New("unknown action type")
	ErrUnknownTool        = errors.New("unknown tool")
	ErrHandlerUnavailable = errors.New("handler not available")
	ErrMissingParameter   = errors.New("missing parameter")

	errWrongDomain = errors.New("factory built a handler for another domain")
)

const defaultInitTimeout = 5 * time.Second

// ActionType is the closed set of domains an action can be dispatched to.
type ActionType string

const (
	ActionVision  ActionType = "vision"
	ActionBrowser ActionType = "browser"
	ActionHands   ActionType = "hands"
	ActionMemory  ActionType = "memory"
)

// ActionTypes lists every valid domain in dispatch order.
var ActionTypes = []ActionType{ActionVision, ActionBrowser, ActionHands, ActionMemory}

func (t ActionType) Valid() bool {
	switch t {
	case ActionVision, ActionBrowser, ActionHands, ActionMemory:
		return true
	}
	return false
}

// CapturesScreen reports whether actions of this type change or read the
// screen, which is when the recorder reserves a screenshot slot.
func (t ActionType) CapturesScreen() bool {
	return t == ActionVision || t == ActionBrowser || t == ActionHands
}

func ParseActionType(s string) (ActionType, error) {
	t := ActionType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
	return t, nil
}

// Params are the named arguments of one action.
type Params map[string]any

// Keys returns the parameter names sorted, giving map iteration a stable order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Require returns the named string parameter or ErrMissingParameter.
func (p Params) Require(key string) (string, error) {
	s := p.String(key)
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, key)
	}
	return s, nil
}

// Int reads integral parameters whether they arrive as Go ints or as
// float64 after a JSON round trip.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// Result is the outcome of one action. Blocked is set only by the security
// gate and is never combined with Success.
type Result struct {
	Success bool   `json:"success"`
	Blocked bool   `json:"blocked,omitempty"`
	Error   string `json:"error,omitempty"`
	Output  any    `json:"output,omitempty"`
}

func OK(output any) Result {
	return Result{Success: true, Output: output}
}

func Failed(err error) Result {
	return Result{Error: err.Error()}
}

func Blocked(reason string) Result {
	return Result{Blocked: true, Error: reason}
}

// Handler executes the tools of one action domain.
type Handler interface {
	Domain() ActionType
	Tools() []string
	Execute(ctx context.Context, tool string, params Params) (any, error)
}

// Factory builds a handler on first use.
type Factory func(ctx context.Context) (Handler, error)

type entry struct {
	mu      sync.Mutex
	built   bool
	factory Factory
	handler Handler
	err     error
}

type buildResult struct {
	handler Handler
	err     error
}

// Registry holds at most one handler per domain. Handlers may be registered
// ready-made or as factories that run once, bounded by InitTimeout.
type Registry struct {
	mu          sync.RWMutex
	entries     map[ActionType]*entry
	InitTimeout time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		entries:     make(map[ActionType]*entry),
		InitTimeout: defaultInitTimeout,
	}
}

func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	r.entries[h.Domain()] = &entry{built: true, handler: h}
	r.mu.Unlock()
}

// RegisterFactory defers construction of the domain's handler until the
// first Get.
func (r *Registry) RegisterFactory(domain ActionType, f Factory) {
	r.mu.Lock()
	r.entries[domain] = &entry{factory: f}
	r.mu.Unlock()
}

// Get returns the domain's handler, building it if needed. A failed build is
// remembered and reported on every later call.
func (r *Registry) Get(ctx context.Context, domain ActionType) (Handler, error) {
	r.mu.RLock()
	e, ok := r.entries[domain]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", domain, ErrHandlerUnavailable)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.built {
		e.handler, e.err = r.build(ctx, domain, e.factory)
		e.built = true
	}
	if e.err != nil {
		return nil, fmt.Errorf("%s: %w: %v", domain, ErrHandlerUnavailable, e.err)
	}
	if e.handler == nil {
		return nil, fmt.Errorf("%s: %w", domain, ErrHandlerUnavailable)
	}
	return e.handler, nil
}

func (r *Registry) build(ctx context.Context, domain ActionType, f Factory) (Handler, error) {
	initCtx, cancel := context.WithTimeout(ctx, r.InitTimeout)
	defer cancel()

	done := make(chan buildResult, 1)
	go func() {
		h, err := f(initCtx)
		done <- buildResult{handler: h, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.handler != nil && res.handler.Domain() != domain {
			return nil, errWrongDomain
		}
		return res.handler, res.err
	case <-initCtx.Done():
		return nil, fmt.Errorf("initialization timed out: %w", initCtx.Err())
	}
}

// Loaded reports whether the domain has a constructed handler.
func (r *Registry) Loaded(domain ActionType) bool {
	r.mu.RLock()
	e, ok := r.entries[domain]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler != nil
}
