package project

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/signac-project/signac/internal/hash"
	"github.com/signac-project/signac/internal/signacerr"
)

// Check walks every directory in the workspace, verifying each holds
// a parseable state point whose hash equals the directory name.
// Failing ids are collected into one JobsCorruptedError (spec §4.8,
// scenario 5).
func (p *Project) Check() error {
	bad, err := p.scanForCorruption()
	if err != nil {
		return err
	}
	if len(bad) > 0 {
		return &signacerr.JobsCorruptedError{IDs: bad}
	}
	return nil
}

// Repair runs Check's scan and, for every misplaced id (hash(SP) !=
// dirname) whose correct destination is free, atomically renames the
// directory into place. Ids it could not fix are returned as a
// JobsCorruptedError.
func (p *Project) Repair() error {
	entries, err := os.ReadDir(p.workspaceDir)
	if err != nil {
		return &signacerr.WorkspaceError{Path: p.workspaceDir, Cause: err}
	}

	var stillBad []string
	for _, e := range entries {
		if !e.IsDir() || !jobIDPattern.MatchString(e.Name()) {
			continue
		}
		id := e.Name()
		dir := filepath.Join(p.workspaceDir, id)
		sp, err := readStatePointFile(filepath.Join(dir, "signac_statepoint.json"))
		if err != nil {
			stillBad = append(stillBad, id)
			continue
		}
		got, err := hash.ID(sp)
		if err != nil {
			stillBad = append(stillBad, id)
			continue
		}
		if got == id {
			continue
		}
		newDir := filepath.Join(p.workspaceDir, got)
		if _, err := os.Stat(newDir); err == nil {
			stillBad = append(stillBad, id)
			continue
		}
		if err := os.Rename(dir, newDir); err != nil {
			stillBad = append(stillBad, id)
			continue
		}
		p.DropSP(id)
		p.CacheSP(got, sp)
	}

	if len(stillBad) > 0 {
		sort.Strings(stillBad)
		return &signacerr.JobsCorruptedError{IDs: stillBad}
	}
	return nil
}

func (p *Project) scanForCorruption() ([]string, error) {
	entries, err := os.ReadDir(p.workspaceDir)
	if err != nil {
		return nil, &signacerr.WorkspaceError{Path: p.workspaceDir, Cause: err}
	}
	var bad []string
	for _, e := range entries {
		if !e.IsDir() || !jobIDPattern.MatchString(e.Name()) {
			continue
		}
		id := e.Name()
		sp, err := readStatePointFile(filepath.Join(p.workspaceDir, id, "signac_statepoint.json"))
		if err != nil {
			bad = append(bad, id)
			continue
		}
		got, err := hash.ID(sp)
		if err != nil || got != id {
			bad = append(bad, id)
		}
	}
	sort.Strings(bad)
	return bad, nil
}
