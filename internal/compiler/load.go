package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/weave/internal/ir"
)

// LoadFile reads a definition from disk. The extension picks the format:
// a .cue file must define a top-level workflow struct, while .yaml, .yml
// and .json files hold the definition itself.
func LoadFile(path string) (*ir.WorkflowSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		w := v.LookupPath(cue.ParsePath("workflow"))
		if !w.Exists() {
			return nil, &CompileError{Field: "workflow", Message: fmt.Sprintf("%s has no top-level workflow field", path)}
		}
		return DecodeCUE(w)
	case ".yaml", ".yml", ".json":
		return DecodeYAML(data)
	default:
		return nil, fmt.Errorf("%s: unsupported definition format %q", path, ext)
	}
}
