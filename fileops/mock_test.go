// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package fileops

import (
	"context"
	"testing"

	"inference-gateway/guard/fuzzyguard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicMultiWriteCreatesBackupAndWrites(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "old content"})

	results, err := m.AtomicMultiWrite(context.Background(), []WriteOp{
		{Path: "a.go", Kind: OpWrite, Content: "new content"},
	}, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.NotEmpty(t, results[0].BackupPath)

	got, ok := m.Get("a.go")
	require.True(t, ok)
	assert.Equal(t, "new content", got)
}

func TestAtomicMultiWriteAppend(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "line1\n"})
	_, err := m.AtomicMultiWrite(context.Background(), []WriteOp{{Path: "a.go", Kind: OpAppend, Content: "line2\n"}}, false)
	require.NoError(t, err)
	got, _ := m.Get("a.go")
	assert.Equal(t, "line1\nline2\n", got)
}

func TestFuzzyEditStrictSkipsNonExactMatch(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "func Foo() {}"})
	report, err := m.FuzzyEdit(context.Background(), "a.go", []fuzzyguard.Edit{{Find: "func Bar", Replace: "func Baz"}}, ModeStrict, 0.8, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.EditsApplied)
}

func TestFuzzyEditAppliesExactMatchAndBacksUp(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "func Foo() {}"})
	report, err := m.FuzzyEdit(context.Background(), "a.go", []fuzzyguard.Edit{{Find: "Foo", Replace: "Bar"}}, ModeLenient, 0.8, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.EditsApplied)
	assert.NotEmpty(t, report.BackupPath)

	got, _ := m.Get("a.go")
	assert.Equal(t, "func Bar() {}", got)
}

func TestFuzzyEditDryRunNeverMutates(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "func Foo() {}"})
	_, err := m.FuzzyEdit(context.Background(), "a.go", []fuzzyguard.Edit{{Find: "Foo", Replace: "Bar"}}, ModeDryRun, 0.8, 3, false)
	require.NoError(t, err)
	got, _ := m.Get("a.go")
	assert.Equal(t, "func Foo() {}", got)
}

func TestBackupCreateRestoreListCleanup(t *testing.T) {
	m := NewMock(map[string]string{"a.go": "v1"})
	rec, err := m.Create(context.Background(), "a.go")
	require.NoError(t, err)

	_, err = m.AtomicMultiWrite(context.Background(), []WriteOp{{Path: "a.go", Kind: OpWrite, Content: "v2"}}, false)
	require.NoError(t, err)

	require.NoError(t, m.Restore(context.Background(), rec.ID))
	got, _ := m.Get("a.go")
	assert.Equal(t, "v1", got)

	records, err := m.List(context.Background(), "a.go")
	require.NoError(t, err)
	assert.Len(t, records, 1)

	removed, err := m.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestResolvePatternsDedupesAndSorts(t *testing.T) {
	m := NewMock(map[string]string{
		"src/a.go": "", "src/b.go": "", "docs/readme.md": "",
	})
	files, err := m.ResolvePatterns(context.Background(), []string{"src/*", "src/a.go"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, files)
}
