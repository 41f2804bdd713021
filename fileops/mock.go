// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package fileops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"inference-gateway/guard/fuzzyguard"
)

// Mock is an in-process Collaborator backed by an in-memory file map,
// for tests that need a Collaborator without touching a real
// filesystem. Not suitable for production use.
type Mock struct {
	mu      sync.Mutex
	files   map[string]string
	backups map[string]mockBackup
}

type mockBackup struct {
	record  BackupRecord
	content string
}

// NewMock builds an empty Mock, optionally seeded with initial files.
func NewMock(seed map[string]string) *Mock {
	files := make(map[string]string, len(seed))
	for k, v := range seed {
		files[k] = v
	}
	return &Mock{files: files, backups: make(map[string]mockBackup)}
}

// Get returns a seeded/written file's content, for test assertions.
func (m *Mock) Get(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.files[path]
	return v, ok
}

func (m *Mock) AtomicMultiWrite(ctx context.Context, ops []WriteOp, createBackup bool) ([]OpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]OpResult, 0, len(ops))
	var backedUp []string

	restore := func() {
		for _, path := range backedUp {
			for _, b := range m.backups {
				if b.record.OriginalPath == path {
					m.files[path] = b.content
				}
			}
		}
	}

	for _, op := range ops {
		var backupPath string
		if createBackup {
			if existing, ok := m.files[op.Path]; ok {
				rec := BackupRecord{ID: newMockID(), OriginalPath: op.Path, CreatedAt: time.Now(), SizeBytes: int64(len(existing))}
				m.backups[rec.ID] = mockBackup{record: rec, content: existing}
				backupPath = rec.ID
				backedUp = append(backedUp, op.Path)
			}
		}

		var newContent string
		switch op.Kind {
		case OpAppend:
			newContent = m.files[op.Path] + op.Content
		default: // OpWrite, OpModifyFullContent
			newContent = op.Content
		}
		m.files[op.Path] = newContent

		results = append(results, OpResult{Path: op.Path, Success: true, BackupPath: backupPath, BytesWritten: len(newContent)})
	}

	for _, r := range results {
		if !r.Success {
			restore()
			return results, fmt.Errorf("atomic multi-write failed at %s", r.Path)
		}
	}
	return results, nil
}

func (m *Mock) FuzzyEdit(ctx context.Context, path string, edits []fuzzyguard.Edit, mode FuzzyEditMode, threshold float64, maxSuggestions int, suggestAlternatives bool) (FuzzyEditReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.files[path]
	if !ok {
		return FuzzyEditReport{}, fmt.Errorf("fileops mock: no such file %s", path)
	}

	report := FuzzyEditReport{Path: path, Dry: mode == ModeDryRun}
	working := content
	applied := 0
	var suggestions []string

	for _, e := range edits {
		if strings.Contains(working, e.Find) {
			working = strings.Replace(working, e.Find, e.Replace, 1)
			applied++
			continue
		}
		if mode == ModeStrict {
			continue
		}
		if suggestAlternatives && len(suggestions) < maxSuggestions {
			suggestions = append(suggestions, "no close match for: "+truncate(e.Find, 40))
		}
	}

	report.EditsApplied = applied
	report.Suggestions = suggestions

	if mode != ModeDryRun && applied > 0 {
		rec := BackupRecord{ID: newMockID(), OriginalPath: path, CreatedAt: time.Now(), SizeBytes: int64(len(content))}
		m.backups[rec.ID] = mockBackup{record: rec, content: content}
		report.BackupPath = rec.ID
		m.files[path] = working
	}
	return report, nil
}

func (m *Mock) Create(ctx context.Context, path string) (BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	if !ok {
		return BackupRecord{}, fmt.Errorf("fileops mock: no such file %s", path)
	}
	rec := BackupRecord{ID: newMockID(), OriginalPath: path, CreatedAt: time.Now(), SizeBytes: int64(len(content))}
	m.backups[rec.ID] = mockBackup{record: rec, content: content}
	return rec, nil
}

func (m *Mock) Restore(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return fmt.Errorf("fileops mock: no such backup %s", id)
	}
	m.files[b.record.OriginalPath] = b.content
	return nil
}

func (m *Mock) List(ctx context.Context, path string) ([]BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []BackupRecord
	for _, b := range m.backups {
		if path == "" || b.record.OriginalPath == path {
			out = append(out, b.record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Mock) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, b := range m.backups {
		if b.record.CreatedAt.Before(cutoff) {
			delete(m.backups, id)
			removed++
		}
	}
	return removed, nil
}

// ResolvePatterns treats each pattern as a literal path or a simple
// "*"-suffixed prefix match over the mock's known files, deduplicated
// and sorted for deterministic test assertions.
func (m *Mock) ResolvePatterns(ctx context.Context, patterns []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}

	for _, p := range patterns {
		if !strings.Contains(p, "*") {
			if _, ok := m.files[p]; ok {
				add(p)
			}
			continue
		}
		prefix := strings.TrimSuffix(p, "*")
		for path := range m.files {
			if strings.HasPrefix(path, prefix) {
				add(path)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func newMockID() string { return uuid.NewString() }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
