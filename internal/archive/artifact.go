package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
)

// Ext is the archive artifact extension.
const Ext = ".zip"

// Entry names inside an artifact.
const (
	MetadataFile = "metadata.json"
	TasksDir     = "tasks/"
)

// ErrUnsafePath is returned by Extract for entries that would escape the destination.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Metadata is stored as metadata.json in every artifact.
type Metadata struct {
	ArchiveID  string        `json:"archiveId"`
	PRDID      string        `json:"prdId"`
	PRD        *types.PRD    `json:"prd"`
	TaskIDs    []string      `json:"taskIds"`
	TaskCount  int           `json:"taskCount"`
	Tasks      []*types.Task `json:"tasks"`
	ArchivedAt time.Time     `json:"archivedAt"`
	ArchivedBy string        `json:"archivedBy"`
	Forced     bool          `json:"forced,omitempty"`
}

// writeArchive builds the artifact in a temp file next to dest and renames it
// into place, so a retry simply overwrites.
func writeArchive(dest string, meta *Metadata, layout storage.Layout, p *types.PRD, linked []*types.Task) (err error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".prd-archive-*.tmp")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive metadata: %w", err)
	}
	if err := addBytes(zw, MetadataFile, metaJSON, meta.ArchivedAt); err != nil {
		return err
	}

	if src := layout.SourcePath(p); utils.FileExists(src) {
		if err := addFile(zw, filepath.Base(src), src); err != nil {
			return err
		}
	}

	for _, t := range linked {
		path := layout.TaskFilePath(t.ID)
		if utils.FileExists(path) {
			if err := addFile(zw, TasksDir+filepath.Base(path), path); err != nil {
				return err
			}
			continue
		}
		// No individual file: store the task record itself.
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		if err := addBytes(zw, fmt.Sprintf("%stask_%s.json", TasksDir, t.ID), data, meta.ArchivedAt); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := utils.DefaultRenameRetry(tmpName, dest); err != nil {
		return fmt.Errorf("install archive: %w", err)
	}
	return nil
}

func addBytes(zw *zip.Writer, name string, data []byte, mod time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: mod})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

func addFile(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from the configured layout
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}

// ReadMetadata returns the metadata record of an artifact.
func ReadMetadata(archivePath string) (*Metadata, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != MetadataFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", MetadataFile, err)
		}
		defer rc.Close()
		var meta Metadata
		if err := json.NewDecoder(rc).Decode(&meta); err != nil {
			return nil, fmt.Errorf("decode %s in %s: %w", MetadataFile, archivePath, err)
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("%s: no %s entry", archivePath, MetadataFile)
}

// Listing is one artifact in the archive directory.
type Listing struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// List returns the artifacts in the archive directory, oldest first.
// Artifacts whose metadata cannot be read are listed with an error.
func (a *Archiver) List(ctx context.Context) ([]Listing, error) {
	dir := a.store.Layout().ArchiveDir
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Listing{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	out := []Listing{}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), Ext) {
			continue
		}
		l := Listing{Path: filepath.Join(dir, e.Name())}
		if info, err := e.Info(); err == nil {
			l.Size = info.Size()
		}
		if meta, err := ReadMetadata(l.Path); err != nil {
			l.Error = err.Error()
		} else {
			l.Metadata = meta
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Metadata != nil && out[j].Metadata != nil {
			return out[i].Metadata.ArchivedAt.Before(out[j].Metadata.ArchivedAt)
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Extract unpacks an artifact into destDir and returns the written paths.
// Existing files are not overwritten.
func Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	var written []string
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, err
			}
			continue
		}
		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}

func safeJoin(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.Contains(name, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	defer rc.Close()
	// #nosec G304 -- target is confined to the destination by safeJoin
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if _, err := io.Copy(out, rc); err != nil { // #nosec G110 -- archives are produced by this tool
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	return out.Close()
}
