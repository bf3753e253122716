// Package hook implements the before/after interceptor pipeline that wraps
// every create and update issued against the storage adapter.
//
// Mutation flow:
//   - Every registered before interceptor for the (model, operation) pair runs
//     in registration order. An interceptor may let the payload through,
//     replace it, or abort the mutation entirely.
//   - The storage write executes with the final payload.
//   - Every registered after interceptor runs with the committed record.
//     After interceptors cannot change committed data; their failures are
//     logged and never roll back the write.
//
// The registry is an explicit object owned by the engine, built once at
// construction time. There is no package-level mutable state.
package hook

import (
	"context"
	"sync"
)

// Model identifies a persisted model that mutations flow through.
type Model string

const (
	ModelUser         Model = "user"
	ModelSession      Model = "session"
	ModelAccount      Model = "account"
	ModelVerification Model = "verification"
)

// Operation identifies the kind of mutation being intercepted.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

type effect int

const (
	effectProceed effect = iota
	effectReplace
	effectAbort
)

// Result is the tagged outcome of a before interceptor: proceed unchanged,
// proceed with a replacement payload, or abort the mutation.
type Result struct {
	effect  effect
	payload any
}

// Proceed lets the mutation continue with the current payload.
func Proceed() Result {
	return Result{effect: effectProceed}
}

// ProceedWith continues the mutation with a replacement payload. Subsequent
// interceptors and the storage write observe the replacement.
func ProceedWith(payload any) Result {
	return Result{effect: effectReplace, payload: payload}
}

// Abort declines the mutation. No storage write is issued and no after
// interceptor runs.
func Abort() Result {
	return Result{effect: effectAbort}
}

// Aborted reports whether the result declines the mutation.
func (r Result) Aborted() bool {
	return r.effect == effectAbort
}

// Replacement returns the replacement payload, if any.
func (r Result) Replacement() (any, bool) {
	if r.effect != effectReplace {
		return nil, false
	}
	return r.payload, true
}

// Before inspects a pending mutation payload and decides whether it proceeds.
type Before func(ctx context.Context, m Model, op Operation, payload any) (Result, error)

// After observes a committed mutation. It exists for side effects only.
type After func(ctx context.Context, m Model, op Operation, record any) error

type registryKey struct {
	model Model
	op    Operation
}

// Registry holds ordered interceptor lists per (model, operation) pair.
type Registry struct {
	mu     sync.RWMutex
	before map[registryKey][]Before
	after  map[registryKey][]After
}

// NewRegistry creates an empty interceptor registry.
func NewRegistry() *Registry {
	return &Registry{
		before: map[registryKey][]Before{},
		after:  map[registryKey][]After{},
	}
}

// RegisterBefore appends a before interceptor for the model and operation.
func (r *Registry) RegisterBefore(m Model, op Operation, fn Before) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{model: m, op: op}
	r.before[key] = append(r.before[key], fn)
}

// RegisterAfter appends an after interceptor for the model and operation.
func (r *Registry) RegisterAfter(m Model, op Operation, fn After) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey{model: m, op: op}
	r.after[key] = append(r.after[key], fn)
}

func (r *Registry) beforeHooks(m Model, op Operation) []Before {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.before[registryKey{model: m, op: op}]
}

func (r *Registry) afterHooks(m Model, op Operation) []After {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.after[registryKey{model: m, op: op}]
}
