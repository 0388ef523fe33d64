// Package codec reads and writes the PRD and task documents.
//
// Every read and every write is schema-validated. Writes replace the target
// atomically so an unlocked reader sees either the old or the new document.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
	"github.com/steveyegge/prdledger/internal/validation"
)

// FileMode is applied to every document the codec writes.
const FileMode os.FileMode = 0o644

// DecodePRDs parses a PRD collection document. Unknown fields are rejected.
// An empty document decodes to an empty collection.
func DecodePRDs(data []byte) (*types.PRDCollection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return types.NewPRDCollection(), nil
	}
	c := &types.PRDCollection{}
	if err := decodeStrict(data, c); err != nil {
		return nil, err
	}
	normalize(c)
	if err := validation.Collection(c); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodePRDs validates and renders the collection as indented JSON.
func EncodePRDs(c *types.PRDCollection) ([]byte, error) {
	normalize(c)
	if err := validation.Collection(c); err != nil {
		return nil, err
	}
	return marshal(c)
}

// DecodeTasks parses a task collection document. Unknown task fields are kept.
func DecodeTasks(data []byte) (*types.TaskCollection, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return types.NewTaskCollection(), nil
	}
	c := &types.TaskCollection{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	if err := validation.Tasks(c); err != nil {
		return nil, err
	}
	return c, nil
}

// EncodeTasks validates and renders the task collection as indented JSON.
func EncodeTasks(c *types.TaskCollection) ([]byte, error) {
	if err := validation.Tasks(c); err != nil {
		return nil, err
	}
	return marshal(c)
}

// ReadPRDs loads the PRD document at path. A missing file is an empty collection.
func ReadPRDs(path string) (*types.PRDCollection, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	c, err := DecodePRDs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WritePRDs validates c and atomically replaces the document at path.
func WritePRDs(path string, c *types.PRDCollection) error {
	data, err := EncodePRDs(c)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return WriteFile(path, data)
}

// ReadTasks loads the task document at path. A missing file is an empty collection.
func ReadTasks(path string) (*types.TaskCollection, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	c, err := DecodeTasks(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// WriteTasks validates c and atomically replaces the document at path.
func WriteTasks(path string, c *types.TaskCollection) error {
	data, err := EncodeTasks(c)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return WriteFile(path, data)
}

// WriteFile atomically replaces path with data, creating parent directories.
func WriteFile(path string, data []byte) error {
	// Write through symlinks instead of replacing them.
	target, err := utils.ResolveForWrite(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}
	if err := atomic.WriteFile(target, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	// #nosec G302 -- metadata documents are shared with other tools
	if err := os.Chmod(target, FileMode); err != nil {
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	// #nosec G304 -- path comes from the configured layout
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// decodeStrict rejects unknown fields and trailing content. Unknown fields
// surface as validation errors so callers can report them like any other
// schema violation.
func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
			return &validation.Error{
				Subject: "prd collection",
				Fields:  []validation.FieldError{{Field: strings.Trim(name, `"`), Tag: "unknown"}},
			}
		}
		return fmt.Errorf("decode prd collection: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("decode prd collection: trailing content after document")
	}
	return nil
}

// normalize replaces null arrays with empty ones so documents always carry [].
func normalize(c *types.PRDCollection) {
	if c.PRDs == nil {
		c.PRDs = []*types.PRD{}
	}
	for _, p := range c.PRDs {
		if p == nil {
			continue
		}
		if p.Tags == nil {
			p.Tags = []string{}
		}
		if p.LinkedTaskIDs == nil {
			p.LinkedTaskIDs = []string{}
		}
	}
}
