package hook_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-identity/hook"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	creates []any
	updates []map[string]any

	createResult any
	updateResult any
}

func (w *fakeWriter) Create(ctx context.Context, m hook.Model, record any) (any, error) {
	w.creates = append(w.creates, record)
	if w.createResult != nil {
		return w.createResult, nil
	}
	return record, nil
}

func (w *fakeWriter) Update(ctx context.Context, m hook.Model, id uuid.UUID, patch map[string]any) (any, error) {
	w.updates = append(w.updates, patch)
	if w.updateResult != nil {
		return w.updateResult, nil
	}
	return patch, nil
}

type testLogger struct {
	errors []string
}

func (l *testLogger) Debug(format string, args ...any) {}
func (l *testLogger) Error(format string, args ...any) {
	l.errors = append(l.errors, fmt.Sprintf(format, args...))
}

func TestPipelineCreateRunsHooksInOrder(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	var order []string
	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		order = append(order, "first")
		return hook.Proceed(), nil
	})
	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		order = append(order, "second")
		return hook.Proceed(), nil
	})
	registry.RegisterAfter(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, record any) error {
		order = append(order, "after")
		return nil
	})

	record := map[string]any{"email": "tess@example.com"}
	committed, err := pipeline.Create(context.Background(), hook.ModelUser, record)

	require.NoError(t, err)
	assert.Equal(t, record, committed)
	assert.Equal(t, []string{"first", "second", "after"}, order)
	assert.Len(t, writer.creates, 1)
}

func TestPipelineCreateAbortSkipsWriteAndAfter(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	afterRan := false
	registry.RegisterBefore(hook.ModelSession, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.Abort(), nil
	})
	registry.RegisterBefore(hook.ModelSession, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		t.Fatal("interceptor after an abort should not run")
		return hook.Proceed(), nil
	})
	registry.RegisterAfter(hook.ModelSession, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, record any) error {
		afterRan = true
		return nil
	})

	committed, err := pipeline.Create(context.Background(), hook.ModelSession, "payload")

	require.Error(t, err)
	assert.True(t, hook.IsAborted(err))
	assert.Nil(t, committed)
	assert.Empty(t, writer.creates)
	assert.False(t, afterRan)
}

func TestPipelineCreateReplacementReachesWriter(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.ProceedWith("replaced"), nil
	})

	var observed any
	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		observed = payload
		return hook.Proceed(), nil
	})

	_, err := pipeline.Create(context.Background(), hook.ModelUser, "original")

	require.NoError(t, err)
	assert.Equal(t, "replaced", observed)
	require.Len(t, writer.creates, 1)
	assert.Equal(t, "replaced", writer.creates[0])
}

func TestPipelineUpdateReplacementMustBePatch(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelAccount, hook.OpUpdate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.ProceedWith("not a patch"), nil
	})

	_, err := pipeline.Update(context.Background(), hook.ModelAccount, uuid.New(), map[string]any{"name": "x"})

	require.Error(t, err)
	assert.Empty(t, writer.updates)
}

func TestPipelineUpdatePatchReplacement(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelAccount, hook.OpUpdate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		patch, ok := payload.(map[string]any)
		if !ok {
			return hook.Result{}, fmt.Errorf("unexpected payload %T", payload)
		}
		patch["audited"] = true
		return hook.ProceedWith(patch), nil
	})

	_, err := pipeline.Update(context.Background(), hook.ModelAccount, uuid.New(), map[string]any{"name": "x"})

	require.NoError(t, err)
	require.Len(t, writer.updates, 1)
	assert.Equal(t, true, writer.updates[0]["audited"])
	assert.Equal(t, "x", writer.updates[0]["name"])
}

func TestPipelineAfterFailureDoesNotRollBack(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	logger := &testLogger{}
	pipeline := hook.NewPipeline(registry, writer, logger)

	registry.RegisterAfter(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, record any) error {
		return fmt.Errorf("notification service down")
	})

	ran := false
	registry.RegisterAfter(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, record any) error {
		ran = true
		return nil
	})

	committed, err := pipeline.Create(context.Background(), hook.ModelUser, "payload")

	require.NoError(t, err)
	assert.Equal(t, "payload", committed)
	assert.True(t, ran, "remaining after interceptors run despite earlier failure")
	assert.NotEmpty(t, logger.errors)
}

func TestPipelineBeforeErrorStopsMutation(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.Result{}, fmt.Errorf("boom")
	})

	_, err := pipeline.Create(context.Background(), hook.ModelUser, "payload")

	require.Error(t, err)
	assert.False(t, hook.IsAborted(err))
	assert.Empty(t, writer.creates)
}

func TestPipelineCancelledContext(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelUser, hook.OpCreate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.Proceed(), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pipeline.Create(ctx, hook.ModelUser, "payload")

	require.Error(t, err)
	assert.Empty(t, writer.creates)
}

func TestPipelineHooksScopedByModelAndOperation(t *testing.T) {
	writer := &fakeWriter{}
	registry := hook.NewRegistry()
	pipeline := hook.NewPipeline(registry, writer, &testLogger{})

	registry.RegisterBefore(hook.ModelSession, hook.OpUpdate, func(ctx context.Context, m hook.Model, op hook.Operation, payload any) (hook.Result, error) {
		return hook.Abort(), nil
	})

	// The abort hook is scoped to session updates; a user create sails through.
	_, err := pipeline.Create(context.Background(), hook.ModelUser, "payload")
	require.NoError(t, err)

	_, err = pipeline.Update(context.Background(), hook.ModelSession, uuid.New(), map[string]any{})
	assert.True(t, hook.IsAborted(err))
}
