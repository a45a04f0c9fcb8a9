package postgres

import (
	"context"
	"database/sql"

	"github.com/miniflow-io/miniflow/internal/execution/domain/repository"
	"github.com/miniflow-io/miniflow/internal/platform/database"
)

// Stores bundles the execution repositories over one Querier. The
// pool-backed instance doubles as the UnitOfWork: InTransaction hands
// fn a second instance bound to the open transaction.
type Stores struct {
	db *database.DB
	q  database.Querier
}

// NewStores creates pool-backed execution stores
func NewStores(db *database.DB) *Stores {
	return &Stores{db: db, q: db.DB}
}

// Executions returns the execution repository
func (s *Stores) Executions() repository.ExecutionRepository {
	return NewExecutionRepository(s.q)
}

// Inputs returns the ready queue repository
func (s *Stores) Inputs() repository.ExecutionInputRepository {
	return NewInputRepository(s.q)
}

// Outputs returns the result log repository
func (s *Stores) Outputs() repository.ExecutionOutputRepository {
	return NewOutputRepository(s.q)
}

// InTransaction runs fn against transaction-scoped stores
func (s *Stores) InTransaction(ctx context.Context, fn func(stores repository.Stores) error) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		return fn(&Stores{db: s.db, q: tx})
	})
}

var (
	_ repository.Stores     = (*Stores)(nil)
	_ repository.UnitOfWork = (*Stores)(nil)
)
