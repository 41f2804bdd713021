// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedJSONBlock(t *testing.T) {
	raw := "Here is my review:\n```json\n{\"status\": \"APPROVE\", \"score\": 9, \"reasoning\": \"looks good\"}\n```\nThanks."
	v := Parse(raw)
	require.NotNil(t, v)
	assert.Equal(t, Approve, v.Status)
	assert.Equal(t, 9.0, v.Score)
	assert.Equal(t, "looks good", v.Reasoning)
}

func TestParseMarkdownVerdictSection(t *testing.T) {
	raw := "Some preamble text.\n\n## Verdict\n- Status: REJECT\n- Score: 3\n- Risk Level: high\n\nMore trailing prose."
	v := Parse(raw)
	require.NotNil(t, v)
	assert.Equal(t, Reject, v.Status)
	assert.Equal(t, 3.0, v.Score)
	assert.Equal(t, "high", v.RiskLevel)
}

func TestParseKeyValueScanFallback(t *testing.T) {
	raw := "I reviewed the code.\nStatus: SECURE\nScore: 8/10\nRisk Level: low\nReasoning: no issues found\n"
	v := Parse(raw)
	require.NotNil(t, v)
	assert.Equal(t, Secure, v.Status)
	assert.Equal(t, 8.0, v.Score)
	assert.Equal(t, "low", v.RiskLevel)
	assert.Equal(t, "no issues found", v.Reasoning)
}

func TestParseScoreOutOfHundredRescales(t *testing.T) {
	raw := "Status: PASS\nScore: 85/100\n"
	v := Parse(raw)
	require.NotNil(t, v)
	assert.Equal(t, 8.5, v.Score)
}

func TestParseReturnsNilWhenNothingIdentifiable(t *testing.T) {
	v := Parse("just some unrelated prose with no structure at all")
	assert.Nil(t, v)
}

func TestExtractJSONObjectStripsSurroundingProse(t *testing.T) {
	raw := "sure, here you go:\n\n```\n{\"a\": 1, \"b\": [1,2,3]}\n```\n\nlet me know if that helps"
	out, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.Equal(t, `{"a": 1, "b": [1,2,3]}`, out)
}

func TestExtractJSONObjectLastResortSubstring(t *testing.T) {
	raw := "preamble { { \"a\": 1 } trailing junk, no real close"
	out, ok := ExtractJSONObject(raw)
	require.True(t, ok)
	assert.Contains(t, out, `"a": 1`)
}

func TestExtractJSONObjectNoCandidateFails(t *testing.T) {
	_, ok := ExtractJSONObject("no braces here at all")
	assert.False(t, ok)
}

func TestHeadTruncatesLongOutput(t *testing.T) {
	assert.Equal(t, "abc", Head("abcdefgh", 3))
	assert.Equal(t, "ab", Head("ab", 5))
}
