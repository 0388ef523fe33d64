package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/prdledger/internal/codec"
	"github.com/steveyegge/prdledger/internal/debug"
	"github.com/steveyegge/prdledger/internal/storage"
	"github.com/steveyegge/prdledger/internal/types"
	"github.com/steveyegge/prdledger/internal/utils"
)

// stagingPrefix names the per-archive directory that holds moved files
// until the archive commits.
const stagingPrefix = ".staging-"

const manifestFile = "manifest.json"

// manifest records what an in-flight archive has touched outside the two
// documents, so an interrupted run can be undone.
type manifest struct {
	PRDID       string      `json:"prdId"`
	ArchivePath string      `json:"archivePath"`
	Moves       []movedFile `json:"moves"`
}

type movedFile struct {
	Original string `json:"original"`
	Staged   string `json:"staged"`
}

func (m movedFile) restore() error {
	if err := utils.DefaultRenameRetry(m.Staged, m.Original); err != nil {
		return fmt.Errorf("restore %s: %w", m.Original, err)
	}
	return nil
}

func (j *manifest) write(staging string) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}
	if err := codec.WriteFile(filepath.Join(staging, manifestFile), data); err != nil {
		return fmt.Errorf("write archive manifest: %w", err)
	}
	return nil
}

func readManifest(staging string) (*manifest, error) {
	// #nosec G304 -- staging directories live under the configured archive dir
	data, err := os.ReadFile(filepath.Join(staging, manifestFile))
	if err != nil {
		return nil, err
	}
	var j manifest
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(staging, manifestFile), err)
	}
	return &j, nil
}

// stage moves path into staging and records the move before returning.
func stage(path, staging string, journal *manifest) (movedFile, error) {
	m := movedFile{Original: path, Staged: filepath.Join(staging, filepath.Base(path))}
	journal.Moves = append(journal.Moves, m)
	if err := journal.write(staging); err != nil {
		journal.Moves = journal.Moves[:len(journal.Moves)-1]
		return movedFile{}, err
	}
	if err := utils.DefaultRenameRetry(path, m.Staged); err != nil {
		return movedFile{}, fmt.Errorf("remove %s: %w", path, err)
	}
	return m, nil
}

// Recover undoes archives that were interrupted before they committed and
// clears the leftovers of ones that did. Both documents are repaired by the
// store when the locks are taken; this handles moved files and partial
// artifacts. Returns the ids of PRDs whose archive was undone.
func (a *Archiver) Recover(ctx context.Context) ([]string, error) {
	var undone []string
	err := a.store.Lock(ctx, func(tx storage.Tx) error {
		prds, err := tx.PRDs()
		if err != nil {
			return err
		}
		undone, err = a.recoverStaging(prds)
		return err
	})
	return undone, err
}

// recoverStaging settles every staging directory. The PRD still being in the
// active collection means its archive never committed: moved files go back
// and the artifact is removed. Otherwise the staging directory is only debris.
// The caller holds both locks with the documents already recovered.
func (a *Archiver) recoverStaging(prds *types.PRDCollection) ([]string, error) {
	dir := a.store.Layout().ArchiveDir
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive directory: %w", err)
	}
	var undone []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), stagingPrefix) {
			continue
		}
		staging := filepath.Join(dir, e.Name())
		j, err := readManifest(staging)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return undone, err
		}
		if j != nil && prds.Find(j.PRDID) != nil {
			for i := len(j.Moves) - 1; i >= 0; i-- {
				m := j.Moves[i]
				if !utils.FileExists(m.Staged) || utils.FileExists(m.Original) {
					continue
				}
				if err := m.restore(); err != nil {
					return undone, err
				}
			}
			if err := os.Remove(j.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
				return undone, fmt.Errorf("remove partial archive: %w", err)
			}
			a.log.Warn("undid interrupted archive", "prd", j.PRDID, "staging", staging)
			debug.LogEvent("archive_recovered", j.PRDID, staging)
			undone = append(undone, j.PRDID)
		}
		if err := os.RemoveAll(staging); err != nil {
			return undone, fmt.Errorf("remove staging directory: %w", err)
		}
	}
	return undone, nil
}
