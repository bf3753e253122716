package hook

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TextCodeAborted is the stable machine-readable code carried by ErrAborted.
const TextCodeAborted = "hook_aborted"

// ErrAborted is returned when a before interceptor declines a mutation.
// This is a normal declined-operation outcome, not an internal failure:
// no storage write was issued and no after interceptor ran.
var ErrAborted = errors.New("mutation blocked by extension", errors.CategoryConflict).
	WithTextCode(TextCodeAborted).
	WithCode(errors.CodeConflict)

// IsAborted reports whether err is the declined-mutation outcome.
func IsAborted(err error) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == TextCodeAborted
}

// Logger captures the logging methods the pipeline needs.
type Logger interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// Writer is the storage surface the pipeline commits mutations through. The
// engine's storage adapter satisfies it.
type Writer interface {
	Create(ctx context.Context, model Model, record any) (any, error)
	Update(ctx context.Context, model Model, id uuid.UUID, patch map[string]any) (any, error)
}

// Pipeline runs registered interceptors around every storage mutation. It is
// the only path through which engine components write to storage.
type Pipeline struct {
	registry *Registry
	writer   Writer
	logger   Logger
}

// NewPipeline wires a registry to a storage writer.
func NewPipeline(registry *Registry, writer Writer, logger Logger) *Pipeline {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Pipeline{
		registry: registry,
		writer:   writer,
		logger:   logger,
	}
}

// Registry exposes the interceptor registry the pipeline executes.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Create runs the before chain, issues the storage insert with the final
// payload, then runs the after chain with the committed record.
func (p *Pipeline) Create(ctx context.Context, m Model, record any) (any, error) {
	payload, err := p.runBefore(ctx, m, OpCreate, record)
	if err != nil {
		return nil, err
	}

	committed, err := p.writer.Create(ctx, m, payload)
	if err != nil {
		return nil, err
	}

	p.runAfter(ctx, m, OpCreate, committed)
	return committed, nil
}

// Update runs the before chain over the patch, issues the storage update with
// the final patch, then runs the after chain with the committed record. A
// replacement payload from a before interceptor must be a patch map.
func (p *Pipeline) Update(ctx context.Context, m Model, id uuid.UUID, patch map[string]any) (any, error) {
	payload, err := p.runBefore(ctx, m, OpUpdate, patch)
	if err != nil {
		return nil, err
	}

	finalPatch, ok := payload.(map[string]any)
	if !ok {
		return nil, errors.New("update interceptor produced a non-patch payload", errors.CategoryInternal).
			WithMetadata(map[string]any{"model": string(m)})
	}

	committed, err := p.writer.Update(ctx, m, id, finalPatch)
	if err != nil {
		return nil, err
	}

	p.runAfter(ctx, m, OpUpdate, committed)
	return committed, nil
}

func (p *Pipeline) runBefore(ctx context.Context, m Model, op Operation, payload any) (any, error) {
	for _, fn := range p.registry.beforeHooks(m, op) {
		// Cancellation aborts the chain before the next interceptor runs.
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "mutation cancelled")
		default:
		}

		result, err := fn(ctx, m, op, payload)
		if err != nil {
			return nil, err
		}

		if result.Aborted() {
			return nil, ErrAborted.WithMetadata(map[string]any{
				"model":     string(m),
				"operation": string(op),
			})
		}

		if replacement, ok := result.Replacement(); ok {
			payload = replacement
		}
	}

	return payload, nil
}

func (p *Pipeline) runAfter(ctx context.Context, m Model, op Operation, record any) {
	for _, fn := range p.registry.afterHooks(m, op) {
		if err := fn(ctx, m, op, record); err != nil {
			// Committed data stays committed. Report and move on.
			if p.logger != nil {
				p.logger.Error("after interceptor failed", "model", m, "operation", op, "error", err)
			}
		}
	}
}
