package plan

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan marks every plan decoding failure.
var ErrInvalidPlan = errors.New("invalid plan")

// Load reads a plan from path. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON.
func Load(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	}
	return DecodeJSON(data)
}

// Decode sniffs the input: a leading '{' selects JSON, otherwise YAML.
func Decode(data []byte) (Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return DecodeJSON(trimmed)
	}
	return DecodeYAML(data)
}

// DecodeYAML converts the YAML document to JSON and decodes that, so both
// encodings share a single schema.
func DecodeYAML(data []byte) (Node, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "parse yaml plan"), ErrInvalidPlan)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "convert yaml plan"), ErrInvalidPlan)
	}
	return DecodeJSON(js)
}

func DecodeJSON(data []byte) (Node, error) {
	n, err := decodeNode(data, "$")
	if err != nil {
		return nil, errors.Mark(err, ErrInvalidPlan)
	}
	return n, nil
}

type envelope struct {
	Type string `json:"_type"`
	ID   string `json:"id"`
}

func decodeNode(raw json.RawMessage, at string) (Node, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, errors.Newf("%s: missing node", at)
	}
	var env envelope
	if err := unmarshal(raw, &env); err != nil {
		return nil, errors.Wrapf(err, "%s", at)
	}
	switch Kind(env.Type) {
	case KindSequence:
		var w struct {
			Nodes []json.RawMessage `json:"nodes"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		nodes, err := decodeNodes(w.Nodes, at+".nodes")
		if err != nil {
			return nil, err
		}
		return &Sequence{ID: env.ID, Nodes: nodes}, nil

	case KindMultiResult:
		var w struct {
			Entries []struct {
				Key  string          `json:"key"`
				Node json.RawMessage `json:"node"`
			} `json:"entries"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		out := &MultiResult{ID: env.ID, Entries: make([]MultiEntry, 0, len(w.Entries))}
		seen := make(map[string]struct{}, len(w.Entries))
		for i, e := range w.Entries {
			if _, dup := seen[e.Key]; dup {
				return nil, errors.Newf("%s.entries[%d]: duplicate key %q", at, i, e.Key)
			}
			seen[e.Key] = struct{}{}
			n, err := decodeNode(e.Node, at+".entries["+e.Key+"]")
			if err != nil {
				return nil, err
			}
			out.Entries = append(out.Entries, MultiEntry{Key: e.Key, Node: n})
		}
		return out, nil

	case KindAllocation:
		var w struct {
			Name string          `json:"name"`
			Node json.RawMessage `json:"node"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		if w.Name == "" {
			return nil, errors.Newf("%s: allocation without name", at)
		}
		n, err := decodeNode(w.Node, at+".node")
		if err != nil {
			return nil, err
		}
		return &Allocation{ID: env.ID, Name: w.Name, Node: n}, nil

	case KindConstant:
		var w struct {
			Type  string `json:"type"`
			Value any    `json:"value"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		v, err := typedConstant(w.Type, literal(w.Value))
		if err != nil {
			return nil, errors.Wrapf(err, "%s: constant of type %s", at, w.Type)
		}
		return &Constant{ID: env.ID, Value: v}, nil

	case KindVariable:
		var w struct {
			Name string `json:"name"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		return &Variable{ID: env.ID, Name: w.Name}, nil

	case KindSQL:
		var w struct {
			Connection Connection `json:"connection"`
			Statement  string     `json:"statement"`
			Mode       ResultMode `json:"mode"`
			Columns    []Column   `json:"columns"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		switch w.Mode {
		case "":
			w.Mode = ModeTabular
		case ModeTabular, ModeUpdate:
		default:
			return nil, errors.Newf("%s: unknown result mode %q", at, w.Mode)
		}
		return &SQL{ID: env.ID, Connection: w.Connection, Statement: w.Statement, Mode: w.Mode, Columns: w.Columns}, nil

	case KindServiceCall:
		var w struct {
			Method  string            `json:"method"`
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
			Body    string            `json:"body"`
			Inputs  []string          `json:"inputs"`
			Outputs []Output          `json:"outputs"`
			Stream  bool              `json:"stream"`
			Auth    *AuthStrategy     `json:"authenticationStrategy"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		if w.Method == "" {
			w.Method = "GET"
		}
		return &ServiceCall{
			ID:      env.ID,
			Method:  strings.ToUpper(w.Method),
			URL:     w.URL,
			Headers: w.Headers,
			Body:    w.Body,
			Inputs:  w.Inputs,
			Outputs: w.Outputs,
			Stream:  w.Stream,
			Auth:    w.Auth,
		}, nil

	case KindGraphQLCall:
		var w struct {
			Endpoint      string            `json:"endpoint"`
			Query         string            `json:"query"`
			OperationName string            `json:"operationName"`
			Variables     map[string]string `json:"variables"`
			Headers       map[string]string `json:"headers"`
			Outputs       []Output          `json:"outputs"`
			Auth          *AuthStrategy     `json:"authenticationStrategy"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		return &GraphQLCall{
			ID:            env.ID,
			Endpoint:      w.Endpoint,
			Query:         w.Query,
			OperationName: w.OperationName,
			Variables:     w.Variables,
			Headers:       w.Headers,
			Outputs:       w.Outputs,
			Auth:          w.Auth,
		}, nil

	case KindGRPCCall:
		var w struct {
			Endpoint    string          `json:"endpoint"`
			Method      string          `json:"method"`
			Descriptors json.RawMessage `json:"descriptors"`
			Request     string          `json:"request"`
			Inputs      []string        `json:"inputs"`
			Outputs     []Output        `json:"outputs"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		return &GRPCCall{
			ID:          env.ID,
			Endpoint:    w.Endpoint,
			Method:      strings.TrimPrefix(w.Method, "/"),
			Descriptors: []byte(w.Descriptors),
			Request:     w.Request,
			Inputs:      w.Inputs,
			Outputs:     w.Outputs,
		}, nil

	case KindInMemory:
		var w struct {
			Columns []Column `json:"columns"`
			Rows    [][]any  `json:"rows"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		rows := make([][]any, len(w.Rows))
		for i, r := range w.Rows {
			if len(r) != len(w.Columns) {
				return nil, errors.Newf("%s.rows[%d]: %d values for %d columns", at, i, len(r), len(w.Columns))
			}
			row := make([]any, len(r))
			for j, v := range r {
				tv, err := typedConstant(w.Columns[j].Type, literal(v))
				if err != nil {
					return nil, errors.Wrapf(err, "%s.rows[%d][%d]", at, i, j)
				}
				row[j] = tv
			}
			rows[i] = row
		}
		return &InMemory{ID: env.ID, Columns: w.Columns, Rows: rows}, nil

	case KindGraphFetch:
		var w struct {
			Class string            `json:"class"`
			Nodes []json.RawMessage `json:"nodes"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		nodes, err := decodeNodes(w.Nodes, at+".nodes")
		if err != nil {
			return nil, err
		}
		return &GraphFetch{ID: env.ID, Class: w.Class, Nodes: nodes}, nil

	case KindError:
		var w struct {
			Message string `json:"message"`
		}
		if err := unmarshal(raw, &w); err != nil {
			return nil, errors.Wrapf(err, "%s", at)
		}
		return &Error{ID: env.ID, Message: w.Message}, nil
	}
	return nil, errors.Newf("%s: unknown node type %q", at, env.Type)
}

func decodeNodes(raws []json.RawMessage, at string) ([]Node, error) {
	out := make([]Node, len(raws))
	for i, r := range raws {
		n, err := decodeNode(r, at+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func unmarshal(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// literal replaces json.Number with int64 when the number is integral and
// float64 otherwise.
func literal(v any) any {
	switch vv := v.(type) {
	case json.Number:
		if i, err := vv.Int64(); err == nil {
			return i
		}
		f, _ := vv.Float64()
		return f
	case []any:
		for i := range vv {
			vv[i] = literal(vv[i])
		}
		return vv
	case map[string]any:
		for k := range vv {
			vv[k] = literal(vv[k])
		}
		return vv
	}
	return v
}
