// Package protodump renders the descriptor sets embedded in a plan's
// grpcCall nodes back to .proto sources.
package protodump

import (
	"io"
	"os"
	"path"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/jhump/protoreflect/v2/protoprint"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/store/grpcsvc"
)

// Files returns every file described by the grpcCall nodes under root,
// deduplicated by path and sorted.
func Files(root plan.Node, d *grpcsvc.Descriptors) ([]protoreflect.FileDescriptor, error) {
	if d == nil {
		d = grpcsvc.NewDescriptors()
	}
	byPath := map[string]protoreflect.FileDescriptor{}
	var err error
	plan.Walk(root, func(n plan.Node) bool {
		call, ok := n.(*plan.GRPCCall)
		if !ok {
			return true
		}
		files, ferr := d.Files(call.Descriptors)
		if ferr != nil {
			err = errors.Wrapf(ferr, "grpcCall %s", errors.Safe(call.ID))
			return false
		}
		files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
			if _, seen := byPath[fd.Path()]; !seen {
				byPath[fd.Path()] = fd
			}
			return true
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]protoreflect.FileDescriptor, 0, len(byPath))
	for _, fd := range byPath {
		out = append(out, fd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out, nil
}

// Print writes fd as .proto source.
func Print(fd protoreflect.FileDescriptor, w io.Writer) error {
	pp := protoprint.Printer{}
	return pp.PrintProtoFile(fd, w)
}

// Render writes each file below outDir at its descriptor path.
func Render(files []protoreflect.FileDescriptor, outDir string) error {
	for _, fd := range files {
		if err := renderFile(fd, outDir); err != nil {
			return err
		}
	}
	return nil
}

func renderFile(fd protoreflect.FileDescriptor, outDir string) error {
	fp := path.Join(outDir, fd.Path())
	if err := os.MkdirAll(path.Dir(fp), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if err := Print(fd, f); err != nil {
		return errors.CombineErrors(errors.Wrapf(err, "print %s", fd.Path()), f.Close())
	}
	return f.Close()
}
