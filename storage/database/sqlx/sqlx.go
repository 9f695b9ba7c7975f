// Package sqlxrepos implements the app repositories on Postgres with sqlx.
package sqlxrepos

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/core"
)

const uniqueViolation = "23505"

// Store wraps a *sqlx.DB as a core.Store.
type Store struct {
	*sqlx.DB
}

var _ core.Store = (*Store)(nil) // interface compliance check

func NewStore(db *sqlx.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.PingContext(ctx)
}

// base holds what all repositories share.
type base struct {
	db      *sqlx.DB
	timeout time.Duration
}

func newBase(db *sqlx.DB, timeout time.Duration) base {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return base{db: db, timeout: timeout}
}

func (b base) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

// uniqueConstraint returns the name of the violated unique constraint, if err is one.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// whereBuilder accumulates AND'ed conditions with positional ($n) args.
type whereBuilder struct {
	conds []string
	args  []interface{}
}

// add appends cond, where every `?` stands for arg.
func (wb *whereBuilder) add(cond string, arg interface{}) {
	wb.args = append(wb.args, arg)
	wb.conds = append(wb.conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(wb.args))))
}

func (wb *whereBuilder) String() string {
	if len(wb.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(wb.conds, " AND ")
}

func orderBy(orderings []core.DBOrdering) string {
	if len(orderings) == 0 {
		return ""
	}
	parts := make([]string, 0, len(orderings))
	for _, ord := range orderings {
		parts = append(parts, ord.String())
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}
