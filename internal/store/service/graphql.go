package service

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/result"
)

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   any            `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type graphqlError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

func (s *Store) graphqlCall(ctx context.Context, n plan.Node, st *executor.State) (result.Result, error) {
	node := n.(*plan.GraphQLCall)
	op, err := Operation(node.Query, node.OperationName)
	if err != nil {
		return nil, errors.Wrapf(err, "graphqlCall %s", errors.Safe(node.ID))
	}
	if err := checkVariables(op, node.Variables); err != nil {
		return nil, errors.Wrapf(err, "graphqlCall %s", errors.Safe(node.ID))
	}
	inputs, err := st.Inputs(node.Inputs())
	if err != nil {
		return nil, err
	}
	vars := make(map[string]any, len(node.Variables))
	for name, input := range node.Variables {
		vars[name] = plan.Normalize(inputs[input])
	}
	body, err := json.Marshal(graphqlRequest{Query: node.Query, OperationName: op.Name, Variables: vars})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Content-Type": "application/json", "Accept": "application/json"}
	for k, v := range node.Headers {
		headers[k] = v
	}

	resp, err := s.do(ctx, st, call{
		nodeID:  node.ID,
		method:  "POST",
		url:     node.Endpoint,
		headers: headers,
		body:    body,
		auth:    node.Auth,
	})
	if err != nil {
		return nil, err
	}
	defer resp.body.Close()

	var out graphqlResponse
	if err := json.NewDecoder(resp.body).Decode(&out); err != nil {
		return nil, executor.BackendFailure(err, node.ID, executor.RedactURL(node.Endpoint))
	}
	if len(out.Errors) > 0 {
		err := errors.Newf("graphql: %s", out.Errors[0].Message)
		if len(out.Errors) > 1 {
			err = errors.WithDetailf(err, "%d more errors", len(out.Errors)-1)
		}
		return nil, executor.BackendFailure(err, node.ID, executor.RedactURL(node.Endpoint))
	}
	if err := publish(st, node.ID, node.Outputs, out.Data); err != nil {
		return nil, err
	}
	return result.NewConstant(out.Data, withStatus(resp.status)), nil
}

// Operation parses query and selects the operation to run. A document with
// several operations needs an explicit name.
func Operation(query, name string) (*ast.OperationDefinition, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, errors.Wrap(err, "invalid graphql query")
	}
	var op *ast.OperationDefinition
	switch {
	case name != "":
		op = doc.Operations.ForName(name)
		if op == nil {
			return nil, errors.Newf("operation %q not found in query", name)
		}
	case len(doc.Operations) == 1:
		op = doc.Operations[0]
	case len(doc.Operations) == 0:
		return nil, errors.New("query has no operation")
	default:
		return nil, errors.Newf("query has %d operations, an operation name is required", len(doc.Operations))
	}
	if op.Operation == ast.Subscription {
		return nil, errors.New("subscriptions are not supported")
	}
	return op, nil
}

// checkVariables verifies that the node binds every required variable and
// nothing the operation does not declare.
func checkVariables(op *ast.OperationDefinition, bound map[string]string) error {
	declared := map[string]bool{}
	for _, v := range op.VariableDefinitions {
		declared[v.Variable] = true
		if _, ok := bound[v.Variable]; ok {
			continue
		}
		if v.Type != nil && v.Type.NonNull && v.DefaultValue == nil {
			return errors.Newf("required variable $%s is not bound", v.Variable)
		}
	}
	for name := range bound {
		if !declared[name] {
			return errors.Newf("variable $%s is not declared by operation %q", name, op.Name)
		}
	}
	return nil
}
