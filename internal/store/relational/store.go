// Package relational executes sql nodes on pooled database connections.
package relational

import (
	"context"
	"database/sql"
	"iter"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/conn"
	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

// ActivityType tags the activity recorded for every executed statement.
const ActivityType = "relational"

// Acquirer hands out pooled connections. *conn.Manager implements it.
type Acquirer interface {
	Acquire(ctx context.Context, caller identity.Identity, c plan.Connection) (*conn.Conn, error)
}

type Store struct {
	conns Acquirer
}

func New(conns Acquirer) *Store { return &Store{conns: conns} }

func (s *Store) Name() string { return "relational" }

func (s *Store) Handlers() map[plan.Kind]executor.Handler {
	return map[plan.Kind]executor.Handler{plan.KindSQL: executor.HandlerFunc(s.execute)}
}

func (s *Store) execute(ctx context.Context, n plan.Node, st *executor.State) (result.Result, error) {
	node := n.(*plan.SQL)
	inputs, err := st.Inputs(plan.Placeholders(node.Statement))
	if err != nil {
		return nil, err
	}
	c, err := s.conns.Acquire(ctx, st.Identity, node.Connection)
	if err != nil {
		return nil, err
	}
	stmt, names := plan.Bind(node.Statement, c.Placeholder)
	args := make([]any, len(names))
	for i, name := range names {
		args[i] = plan.Normalize(inputs[name])
	}
	activity := result.Activity{Type: ActivityType, Detail: stmt}
	st.AddActivity(activity)

	if node.Mode == plan.ModeUpdate {
		res, err := c.ExecContext(ctx, stmt, args...)
		if err != nil {
			return nil, errors.CombineErrors(failure(err, node), c.Release())
		}
		affected, err := res.RowsAffected()
		if rerr := c.Release(); err == nil {
			err = rerr
		}
		if err != nil {
			return nil, failure(err, node)
		}
		return result.NewUpdateCount(affected, result.WithActivities(activity)), nil
	}

	rows, err := c.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.CombineErrors(failure(err, node), c.Release())
	}
	cols, err := columns(node.Columns, rows)
	if err != nil {
		return nil, errors.CombineErrors(failure(err, node), errors.CombineErrors(rows.Close(), c.Release()))
	}
	return result.NewTabular(
		result.Builder{Columns: cols},
		scan(rows, len(cols)),
		result.WithCloser(c.Release),
		result.WithCloser(rows.Close),
		result.WithActivities(activity),
	), nil
}

func failure(err error, node *plan.SQL) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return executor.BackendFailure(err, node.ID, node.Connection.String())
}

// columns prefers the compiled column list and falls back to driver metadata.
func columns(declared []plan.Column, rows *sql.Rows) ([]plan.Column, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	if len(declared) > 0 {
		if len(declared) != len(types) {
			return nil, errors.Newf("statement returned %d columns, plan declares %d", len(types), len(declared))
		}
		return declared, nil
	}
	out := make([]plan.Column, len(types))
	for i, t := range types {
		out[i] = plan.Column{Name: t.Name(), Type: logicalType(t.DatabaseTypeName()), RelationalType: t.DatabaseTypeName()}
	}
	return out, nil
}

func logicalType(dbType string) string {
	t := strings.ToUpper(dbType)
	switch {
	case t == "":
		return "String"
	case strings.Contains(t, "INT"):
		return "Integer"
	case strings.Contains(t, "BOOL"):
		return "Boolean"
	case strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"), strings.Contains(t, "NUMBER"):
		return "Decimal"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOAT"), strings.Contains(t, "DOUBLE"):
		return "Float"
	case strings.Contains(t, "TIMESTAMP"), strings.Contains(t, "DATETIME"):
		return "DateTime"
	case t == "DATE":
		return "StrictDate"
	}
	return "String"
}

func scan(rows *sql.Rows, width int) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		for rows.Next() {
			vals := make([]any, width)
			ptrs := make([]any, width)
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, err)
				return
			}
			for i, v := range vals {
				if b, ok := v.([]byte); ok {
					vals[i] = string(b)
				}
			}
			if !yield(vals, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}
