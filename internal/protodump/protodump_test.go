package protodump

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jhump/protoreflect/v2/protobuilder"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/store/grpcsvc"
)

// descriptorSet builds a one-service file and encodes it the way plans embed
// descriptor sets.
func descriptorSet(t *testing.T, file, pkg, svc, entity string) []byte {
	t.Helper()
	fb := protobuilder.NewFile(file)
	fb.SetPackageName(protoreflect.FullName(pkg))
	fb.SetSyntax(protoreflect.Proto3)

	req := protobuilder.NewMessage(protoreflect.Name("Get" + entity + "Request"))
	req.AddField(protobuilder.NewField("id", protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	resp := protobuilder.NewMessage(protoreflect.Name(entity))
	resp.AddField(protobuilder.NewField("id", protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	resp.AddField(protobuilder.NewField("name", protobuilder.FieldTypeScalar(protoreflect.StringKind)))
	fb.AddMessage(req)
	fb.AddMessage(resp)

	sb := protobuilder.NewService(protoreflect.Name(svc))
	sb.AddMethod(protobuilder.NewMethod(
		protoreflect.Name("Get"+entity),
		protobuilder.RpcTypeMessage(req, false),
		protobuilder.RpcTypeMessage(resp, false),
	))
	fb.AddService(sb)

	fd, err := fb.Build()
	require.NoError(t, err)
	b, err := protojson.Marshal(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{protodesc.ToFileDescriptorProto(fd)},
	})
	require.NoError(t, err)
	return b
}

func testPlan(t *testing.T) plan.Node {
	people := descriptorSet(t, "people/people.proto", "people", "PersonService", "Person")
	billing := descriptorSet(t, "billing/invoice.proto", "billing", "InvoiceService", "Invoice")
	return &plan.Sequence{Nodes: []plan.Node{
		&plan.GRPCCall{ID: "a", Method: "people.PersonService/GetPerson", Descriptors: people},
		&plan.Allocation{Name: "x", Node: &plan.GRPCCall{ID: "b", Method: "people.PersonService/GetPerson", Descriptors: people}},
		&plan.MultiResult{Entries: []plan.MultiEntry{
			{Key: "inv", Node: &plan.GRPCCall{ID: "c", Method: "billing.InvoiceService/GetInvoice", Descriptors: billing}},
			{Key: "const", Node: &plan.Constant{Value: 1}},
		}},
	}}
}

func TestFiles(t *testing.T) {
	d := grpcsvc.NewDescriptors()
	files, err := Files(testPlan(t), d)
	require.NoError(t, err)
	var paths []string
	for _, fd := range files {
		paths = append(paths, fd.Path())
	}
	if diff := cmp.Diff([]string{"billing/invoice.proto", "people/people.proto"}, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}

	files, err = Files(&plan.Constant{Value: 1}, nil)
	require.NoError(t, err)
	require.Empty(t, files)

	_, err = Files(&plan.GRPCCall{ID: "bad", Descriptors: []byte(`{`)}, d)
	require.ErrorContains(t, err, "grpcCall bad")
}

func TestPrintAndRender(t *testing.T) {
	files, err := Files(testPlan(t), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Print(files[1], &buf))
	src := buf.String()
	require.Contains(t, src, "package people;")
	require.Contains(t, src, "message Person {")
	require.Contains(t, src, "service PersonService {")
	require.Contains(t, src, "GetPerson")

	dir := t.TempDir()
	require.NoError(t, Render(files, dir))
	for _, p := range []string{"people/people.proto", "billing/invoice.proto"} {
		b, err := os.ReadFile(filepath.Join(dir, p))
		require.NoError(t, err)
		require.Contains(t, string(b), "syntax = \"proto3\";")
	}
}
