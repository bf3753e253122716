// Package repository implements the engine storage contract on Bun. It is
// the reference adapter: any store that satisfies identity.Adapter can stand
// in for it.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/hook"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Adapter is the Bun-backed storage adapter. Users go through the generic
// repository; sessions, accounts, and verifications use direct queries.
type Adapter struct {
	db    *bun.DB
	users repository.Repository[*identity.User]
}

var (
	_ identity.Adapter         = (*Adapter)(nil)
	_ identity.AccountUnlinker = (*Adapter)(nil)
)

// NewAdapter creates the adapter over an initialized Bun handle.
func NewAdapter(db *bun.DB) *Adapter {
	users := repository.NewRepository[*identity.User](db, repository.ModelHandlers[*identity.User]{
		NewRecord: func() *identity.User { return &identity.User{} },
		GetID: func(u *identity.User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *identity.User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &Adapter{
		db:    db,
		users: users,
	}
}

// Migrate creates the engine tables if they do not exist. Intended for tests
// and development; production schemas are owned by the host application.
func (a *Adapter) Migrate(ctx context.Context) error {
	models := []any{
		(*identity.User)(nil),
		(*identity.Session)(nil),
		(*identity.Account)(nil),
		(*identity.Verification)(nil),
		(*RateLimitRecord)(nil),
	}

	for _, model := range models {
		if _, err := a.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create table")
		}
	}

	return nil
}

// RunInTx exposes the underlying transaction runner.
func (a *Adapter) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return a.db.RunInTx(ctx, opts, f)
	}
}

// Create inserts the record and returns the stored copy.
func (a *Adapter) Create(ctx context.Context, model hook.Model, record any) (any, error) {
	switch model {
	case hook.ModelUser:
		user, ok := record.(*identity.User)
		if !ok {
			return nil, unexpectedRecord(model, record)
		}
		created, err := a.users.Create(ctx, user)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}
		return created, nil

	case hook.ModelSession, hook.ModelAccount, hook.ModelVerification:
		if _, err := a.db.NewInsert().Model(record).Exec(ctx); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryConflict, fmt.Sprintf("could not create %s", model))
		}
		return record, nil
	}

	return nil, unknownModel(model)
}

// Update applies the patch columns to the record and returns the stored copy.
func (a *Adapter) Update(ctx context.Context, model hook.Model, id uuid.UUID, patch map[string]any) (any, error) {
	zero, err := zeroModel(model)
	if err != nil {
		return nil, err
	}

	q := a.db.NewUpdate().Model(zero).Where("id = ?", id)
	for column, value := range patch {
		q = q.Set(fmt.Sprintf("%s = ?", column), value)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("could not update %s", model))
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, goerrors.New(fmt.Sprintf("%s not found", model), goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"id": id.String()})
	}

	return a.FindOne(ctx, model, identity.Filter{"id": id})
}

// FindOne returns the first record matching the filter, or (nil, nil) when
// there is none.
func (a *Adapter) FindOne(ctx context.Context, model hook.Model, filter identity.Filter) (any, error) {
	if model == hook.ModelUser {
		return a.findUser(ctx, filter)
	}

	zero, err := zeroModel(model)
	if err != nil {
		return nil, err
	}

	q := a.db.NewSelect().Model(zero)
	for column, value := range filter {
		q = q.Where(fmt.Sprintf("?TableAlias.%s = ?", column), value)
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return zero, nil
}

// FindMany returns all records matching the filter.
func (a *Adapter) FindMany(ctx context.Context, model hook.Model, filter identity.Filter) ([]any, error) {
	records, q, err := a.selectMany(model)
	if err != nil {
		return nil, err
	}

	for column, value := range filter {
		q = q.Where(fmt.Sprintf("?TableAlias.%s = ?", column), value)
	}

	if err := q.Scan(ctx); err != nil {
		if err == sql.ErrNoRows {
			return []any{}, nil
		}
		return nil, err
	}

	return records(), nil
}

// Delete removes the record by primary key. Deleting a missing record is not
// an error.
func (a *Adapter) Delete(ctx context.Context, model hook.Model, id uuid.UUID) error {
	zero, err := zeroModel(model)
	if err != nil {
		return err
	}

	_, err = a.db.NewDelete().Model(zero).Where("id = ?", id).Exec(ctx)
	return err
}

// DeleteAccountGuarded removes the account only while the user keeps at
// least one other. The count and delete execute as one statement inside a
// transaction, so two concurrent unlinks of a two-account user cannot both
// succeed.
func (a *Adapter) DeleteAccountGuarded(ctx context.Context, userID, accountID uuid.UUID) error {
	return a.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().
			Model((*identity.Account)(nil)).
			Where("id = ? AND user_id = ?", accountID, userID).
			Where("(SELECT COUNT(*) FROM accounts WHERE user_id = ?) > 1", userID).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not unlink account")
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not unlink account")
		}
		if rows > 0 {
			return nil
		}

		count, err := tx.NewSelect().
			Model((*identity.Account)(nil)).
			Where("id = ? AND user_id = ?", accountID, userID).
			Count(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not unlink account")
		}
		if count == 0 {
			return identity.ErrAccountNotFound
		}

		return identity.ErrLastAccountUnlink
	})
}

func (a *Adapter) findUser(ctx context.Context, filter identity.Filter) (any, error) {
	var user *identity.User
	var err error

	switch {
	case filter["id"] != nil:
		id, ok := filter["id"].(uuid.UUID)
		if !ok {
			return nil, goerrors.New("user id filter must be a uuid", goerrors.CategoryBadInput)
		}
		user, err = a.users.GetByID(ctx, id.String())
	case filter["email"] != nil:
		email, ok := filter["email"].(string)
		if !ok {
			return nil, goerrors.New("user email filter must be a string", goerrors.CategoryBadInput)
		}
		user, err = a.users.GetByIdentifier(ctx, email)
	default:
		return nil, goerrors.New("unsupported user filter", goerrors.CategoryBadInput)
	}

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

func (a *Adapter) selectMany(model hook.Model) (func() []any, *bun.SelectQuery, error) {
	switch model {
	case hook.ModelUser:
		records := []*identity.User{}
		q := a.db.NewSelect().Model(&records)
		return func() []any { return asAny(records) }, q, nil
	case hook.ModelSession:
		records := []*identity.Session{}
		q := a.db.NewSelect().Model(&records)
		return func() []any { return asAny(records) }, q, nil
	case hook.ModelAccount:
		records := []*identity.Account{}
		q := a.db.NewSelect().Model(&records)
		return func() []any { return asAny(records) }, q, nil
	case hook.ModelVerification:
		records := []*identity.Verification{}
		q := a.db.NewSelect().Model(&records)
		return func() []any { return asAny(records) }, q, nil
	}
	return nil, nil, unknownModel(model)
}

func zeroModel(model hook.Model) (any, error) {
	switch model {
	case hook.ModelUser:
		return &identity.User{}, nil
	case hook.ModelSession:
		return &identity.Session{}, nil
	case hook.ModelAccount:
		return &identity.Account{}, nil
	case hook.ModelVerification:
		return &identity.Verification{}, nil
	}
	return nil, unknownModel(model)
}

func asAny[T any](records []T) []any {
	out := make([]any, len(records))
	for i, record := range records {
		out[i] = record
	}
	return out
}

func unknownModel(model hook.Model) error {
	return goerrors.New(fmt.Sprintf("unknown model %q", model), goerrors.CategoryInternal)
}

func unexpectedRecord(model hook.Model, record any) error {
	return goerrors.New(
		fmt.Sprintf("unexpected record type %T for model %q", record, model),
		goerrors.CategoryInternal,
	)
}
