package plan

// Kind tags an execution node with the operator that must run it.
type Kind string

const (
	KindSequence    Kind = "sequence"
	KindMultiResult Kind = "multiResult"
	KindAllocation  Kind = "allocation"
	KindConstant    Kind = "constant"
	KindVariable    Kind = "variable"
	KindSQL         Kind = "sql"
	KindServiceCall Kind = "serviceCall"
	KindGraphQLCall Kind = "graphqlCall"
	KindGRPCCall    Kind = "grpcCall"
	KindInMemory    Kind = "inMemory"
	KindGraphFetch  Kind = "graphFetch"
	KindError       Kind = "error"
)

// Kinds returns every node kind the plan model knows about, in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindSequence,
		KindMultiResult,
		KindAllocation,
		KindConstant,
		KindVariable,
		KindSQL,
		KindServiceCall,
		KindGraphQLCall,
		KindGRPCCall,
		KindInMemory,
		KindGraphFetch,
		KindError,
	}
}

// Node is a single element of a compiled execution plan. Nodes are immutable
// once decoded.
type Node interface {
	Kind() Kind
	// NodeID is the compiler-assigned identifier, possibly empty.
	NodeID() string
	// Children lists directly nested nodes in declaration order.
	Children() []Node
}

// Column describes one column of a tabular result.
type Column struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	RelationalType string `json:"relationalType,omitempty"`
}

// Output publishes part of a service response into the execution state.
// Path is a dot separated field path into the decoded response; an empty path
// publishes the whole document.
type Output struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

type Sequence struct {
	ID    string
	Nodes []Node
}

func (n *Sequence) Kind() Kind       { return KindSequence }
func (n *Sequence) NodeID() string   { return n.ID }
func (n *Sequence) Children() []Node { return n.Nodes }

// MultiEntry is one keyed branch of a MultiResult node.
type MultiEntry struct {
	Key  string
	Node Node
}

type MultiResult struct {
	ID      string
	Entries []MultiEntry
}

func (n *MultiResult) Kind() Kind     { return KindMultiResult }
func (n *MultiResult) NodeID() string { return n.ID }
func (n *MultiResult) Children() []Node {
	out := make([]Node, len(n.Entries))
	for i, e := range n.Entries {
		out[i] = e.Node
	}
	return out
}

// Allocation executes Node and publishes its result under Name.
type Allocation struct {
	ID   string
	Name string
	Node Node
}

func (n *Allocation) Kind() Kind       { return KindAllocation }
func (n *Allocation) NodeID() string   { return n.ID }
func (n *Allocation) Children() []Node { return []Node{n.Node} }

type Constant struct {
	ID    string
	Value any
}

func (n *Constant) Kind() Kind       { return KindConstant }
func (n *Constant) NodeID() string   { return n.ID }
func (n *Constant) Children() []Node { return nil }

// Variable reads a value previously published by an Allocation or a service
// output.
type Variable struct {
	ID   string
	Name string
}

func (n *Variable) Kind() Kind       { return KindVariable }
func (n *Variable) NodeID() string   { return n.ID }
func (n *Variable) Children() []Node { return nil }

// ResultMode selects how a SQL node reports its outcome.
type ResultMode string

const (
	ModeTabular ResultMode = "tabular"
	ModeUpdate  ResultMode = "update"
)

// SQL runs a statement against a relational connection. ${name} placeholders
// are bound as driver parameters from the execution state.
type SQL struct {
	ID         string
	Connection Connection
	Statement  string
	Mode       ResultMode
	Columns    []Column
}

func (n *SQL) Kind() Kind       { return KindSQL }
func (n *SQL) NodeID() string   { return n.ID }
func (n *SQL) Children() []Node { return nil }

// ServiceCall invokes an HTTP service. URL, header values and Body may contain
// ${name} placeholders resolved from Inputs.
type ServiceCall struct {
	ID      string
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Inputs  []string
	Outputs []Output
	Stream  bool
	Auth    *AuthStrategy
}

func (n *ServiceCall) Kind() Kind       { return KindServiceCall }
func (n *ServiceCall) NodeID() string   { return n.ID }
func (n *ServiceCall) Children() []Node { return nil }

// GraphQLCall posts a GraphQL operation. Variables maps operation variable
// names to execution state inputs.
type GraphQLCall struct {
	ID            string
	Endpoint      string
	Query         string
	OperationName string
	Variables     map[string]string
	Headers       map[string]string
	Outputs       []Output
	Auth          *AuthStrategy
}

func (n *GraphQLCall) Kind() Kind       { return KindGraphQLCall }
func (n *GraphQLCall) NodeID() string   { return n.ID }
func (n *GraphQLCall) Children() []Node { return nil }

func (n *GraphQLCall) Inputs() []string {
	out := make([]string, 0, len(n.Variables))
	for _, in := range n.Variables {
		out = append(out, in)
	}
	return out
}

// GRPCCall invokes a unary gRPC method described by an embedded descriptor
// set (protojson encoded google.protobuf.FileDescriptorSet).
type GRPCCall struct {
	ID          string
	Endpoint    string
	Method      string
	Descriptors []byte
	Request     string
	Inputs      []string
	Outputs     []Output
}

func (n *GRPCCall) Kind() Kind       { return KindGRPCCall }
func (n *GRPCCall) NodeID() string   { return n.ID }
func (n *GRPCCall) Children() []Node { return nil }

// InMemory carries literal tabular data.
type InMemory struct {
	ID      string
	Columns []Column
	Rows    [][]any
}

func (n *InMemory) Kind() Kind       { return KindInMemory }
func (n *InMemory) NodeID() string   { return n.ID }
func (n *InMemory) Children() []Node { return nil }

// GraphFetch is the legacy object graph fetch operator. It is decoded so that
// plans containing it fail at dispatch with a clear error.
type GraphFetch struct {
	ID    string
	Class string
	Nodes []Node
}

func (n *GraphFetch) Kind() Kind       { return KindGraphFetch }
func (n *GraphFetch) NodeID() string   { return n.ID }
func (n *GraphFetch) Children() []Node { return n.Nodes }

// Error marks a branch the compiler knew would fail.
type Error struct {
	ID      string
	Message string
}

func (n *Error) Kind() Kind       { return KindError }
func (n *Error) NodeID() string   { return n.ID }
func (n *Error) Children() []Node { return nil }

// Walk visits n and its descendants depth-first, parents before children.
// Returning false from fn stops the walk.
func Walk(n Node, fn func(Node) bool) bool {
	if n == nil {
		return true
	}
	if !fn(n) {
		return false
	}
	for _, c := range n.Children() {
		if !Walk(c, fn) {
			return false
		}
	}
	return true
}
