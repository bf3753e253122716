package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity/hook"
	"github.com/google/uuid"
)

// Verifier issues and consumes one-time verification tokens (email
// verification, password reset handoffs). Values are opaque and single-use.
type Verifier struct {
	adapter  Adapter
	pipeline *hook.Pipeline
	tokens   TokenGenerator
	logger   Logger
	now      func() time.Time
}

// NewVerifier wires the verification token service.
func NewVerifier(adapter Adapter, pipeline *hook.Pipeline, tokens TokenGenerator, logger Logger) *Verifier {
	if logger == nil {
		logger = defLogger{}
	}
	if tokens == nil {
		tokens = NewTokenGenerator()
	}
	return &Verifier{
		adapter:  adapter,
		pipeline: pipeline,
		tokens:   tokens,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateToken mints a one-time token bound to identifier (typically an email
// address) with the given lifetime.
func (v *Verifier) CreateToken(ctx context.Context, identifier string, ttl time.Duration) (*Verification, error) {
	if identifier == "" {
		return nil, errors.New("verification identifier is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	value, err := v.tokens.GenerateToken(32)
	if err != nil {
		return nil, err
	}

	now := v.now()
	record := &Verification{
		ID:         uuid.New(),
		Identifier: identifier,
		Value:      value,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	committed, err := v.pipeline.Create(ctx, hook.ModelVerification, record)
	if err != nil {
		return nil, err
	}

	created, ok := committed.(*Verification)
	if !ok {
		return nil, errors.New("adapter returned unexpected verification record", errors.CategoryInternal)
	}
	return created, nil
}

// Consume validates and burns a token. Unknown, expired, and mismatched
// tokens are all ErrVerificationInvalid; a consumed token never validates
// twice.
func (v *Verifier) Consume(ctx context.Context, identifier, value string) error {
	if identifier == "" || value == "" {
		return ErrVerificationInvalid
	}

	raw, err := v.adapter.FindOne(ctx, hook.ModelVerification, Filter{
		"identifier": identifier,
		"value":      value,
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to look up verification token")
	}
	if raw == nil {
		return ErrVerificationInvalid
	}

	record, ok := raw.(*Verification)
	if !ok {
		return errors.New("adapter returned unexpected verification record", errors.CategoryInternal)
	}

	// Delete first so a concurrent consume of the same token cannot win too.
	if err := v.adapter.Delete(ctx, hook.ModelVerification, record.ID); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to consume verification token")
	}

	if !record.ExpiresAt.After(v.now()) {
		return ErrVerificationInvalid
	}

	return nil
}
