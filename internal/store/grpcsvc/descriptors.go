package grpcsvc

import (
	"crypto/sha256"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Descriptors caches parsed descriptor sets by content hash. Plans commonly
// repeat the same set on every grpcCall node.
type Descriptors struct {
	mu    sync.Mutex
	files map[[sha256.Size]byte]*protoregistry.Files
}

func NewDescriptors() *Descriptors {
	return &Descriptors{files: map[[sha256.Size]byte]*protoregistry.Files{}}
}

// ParseSet decodes a protojson encoded google.protobuf.FileDescriptorSet.
func ParseSet(raw []byte) (*descriptorpb.FileDescriptorSet, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty descriptor set")
	}
	var set descriptorpb.FileDescriptorSet
	if err := protojson.Unmarshal(raw, &set); err != nil {
		return nil, errors.Wrap(err, "decode descriptor set")
	}
	return &set, nil
}

// Files returns the registry built from raw.
func (d *Descriptors) Files(raw []byte) (*protoregistry.Files, error) {
	key := sha256.Sum256(raw)
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[key]; ok {
		return f, nil
	}
	set, err := ParseSet(raw)
	if err != nil {
		return nil, err
	}
	files, err := protodesc.NewFiles(set)
	if err != nil {
		return nil, errors.Wrap(err, "link descriptor set")
	}
	d.files[key] = files
	return files, nil
}

// Method resolves name, either "pkg.Service/Method" or "pkg.Service.Method".
func (d *Descriptors) Method(raw []byte, name string) (protoreflect.MethodDescriptor, error) {
	files, err := d.Files(raw)
	if err != nil {
		return nil, err
	}
	name = strings.TrimPrefix(name, "/")
	cut := strings.LastIndexByte(name, '/')
	if cut < 0 {
		cut = strings.LastIndexByte(name, '.')
	}
	if cut <= 0 || cut == len(name)-1 {
		return nil, errors.Newf("malformed method name %q", name)
	}
	svcName, methodName := name[:cut], name[cut+1:]
	desc, err := files.FindDescriptorByName(protoreflect.FullName(svcName))
	if err != nil {
		return nil, errors.Wrapf(err, "service %s", errors.Safe(svcName))
	}
	svc, ok := desc.(protoreflect.ServiceDescriptor)
	if !ok {
		return nil, errors.Newf("%s is not a service", errors.Safe(svcName))
	}
	md := svc.Methods().ByName(protoreflect.Name(methodName))
	if md == nil {
		return nil, errors.Newf("service %s has no method %s", errors.Safe(svcName), errors.Safe(methodName))
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return nil, errors.Newf("method %s is streaming; only unary calls are supported", errors.Safe(name))
	}
	return md, nil
}
