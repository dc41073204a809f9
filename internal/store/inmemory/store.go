// Package inmemory serves inMemory nodes whose rows are embedded in the plan.
package inmemory

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

type Store struct{}

func New() *Store { return &Store{} }

func (*Store) Name() string { return "inmemory" }

func (s *Store) Handlers() map[plan.Kind]executor.Handler {
	return map[plan.Kind]executor.Handler{plan.KindInMemory: executor.HandlerFunc(s.execute)}
}

func (*Store) execute(_ context.Context, n plan.Node, _ *executor.State) (result.Result, error) {
	node := n.(*plan.InMemory)
	rows := make([][]any, len(node.Rows))
	for i, row := range node.Rows {
		if len(row) != len(node.Columns) {
			return nil, errors.AssertionFailedf("inMemory %s row %d has %d values for %d columns",
				errors.Safe(node.ID), i, len(row), len(node.Columns))
		}
		// copied so consumers never alias the immutable plan
		rows[i] = append([]any(nil), row...)
	}
	cols := append([]plan.Column(nil), node.Columns...)
	return result.NewTabular(result.Builder{Columns: cols}, result.RowsOf(rows)), nil
}
