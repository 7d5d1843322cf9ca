package passthrough

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/knbase/pkg/types"
	"github.com/cuemby/knbase/pkg/workspace"
)

// ModuleID is the stable string id of the passthrough preprocessor
const ModuleID = "passthrough"

// Module is the simplest useful PreprocessingModule: it copies the
// resource's bytes into the workspace as a single document whose hash is
// the resource hash. Unchanged resources therefore reproduce byte-identical
// output, and an update can serve the copy straight from the latest cache.
type Module struct{}

// New creates the module
func New() *Module {
	return &Module{}
}

// ID returns the module's stable string id
func (m *Module) ID() string {
	return ModuleID
}

// Kind returns the module role
func (m *Module) Kind() types.ModuleKind {
	return types.ModuleKindPreprocessing
}

// Acceptant accepts everything
func (m *Module) Acceptant(baseID int64, resourceHash []byte, resourcePath string, contentType string) bool {
	return true
}

// Preprocess copies the resource into the workspace as document.bin. When
// a latest cache exists the prior copy is reused untouched.
func (m *Module) Preprocess(req *types.PreprocessRequest) ([]*types.PreprocessingResult, error) {
	const outName = "document.bin"

	if err := req.Interruption.Err(); err != nil {
		return nil, err
	}
	if req.ReportProgress != nil {
		req.ReportProgress(0)
	}

	meta, err := json.Marshal(map[string]string{
		"source":       req.ResourcePath,
		"content_type": req.ContentType,
	})
	if err != nil {
		return nil, err
	}
	result := &types.PreprocessingResult{
		Hash: req.ResourceHash,
		Path: outName,
		Meta: meta,
	}

	if req.LatestCachePath != "" {
		if _, err := os.Stat(filepath.Join(req.LatestCachePath, outName)); err == nil {
			result.FromCache = true
			if req.ReportProgress != nil {
				req.ReportProgress(1)
			}
			return []*types.PreprocessingResult{result}, nil
		}
	}

	// stage the copy in a scratch dir so an aborted run never leaves a
	// partial document at the published path
	scratch, err := workspace.ScratchDir(req.WorkspacePath)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)

	if err := copyFile(req.ResourcePath, filepath.Join(scratch, outName)); err != nil {
		return nil, err
	}
	if err := req.Interruption.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(filepath.Join(scratch, outName), filepath.Join(req.WorkspacePath, outName)); err != nil {
		return nil, fmt.Errorf("failed to publish document: %w", err)
	}
	if req.ReportProgress != nil {
		req.ReportProgress(1)
	}
	return []*types.PreprocessingResult{result}, nil
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open resource: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy resource: %w", err)
	}
	return dst.Close()
}

var _ types.PreprocessingModule = (*Module)(nil)
