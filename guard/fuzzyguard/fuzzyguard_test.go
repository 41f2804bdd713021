// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package fuzzyguard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmpty(t *testing.T) {
	var fired []MetricEvent
	r := Validate(nil, Limits{}, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventEmptyInput)
}

func TestValidateAcceptsWithinLimits(t *testing.T) {
	r := Validate([]Edit{{Find: "foo", Replace: "bar"}}, Limits{}, nil)
	assert.True(t, r.Valid)
	assert.Equal(t, 1, r.EditCount)
	assert.Equal(t, 6, r.TotalChars)
}

func TestValidateRejectsSingleTooLong(t *testing.T) {
	var fired []MetricEvent
	big := strings.Repeat("x", 6000)
	r := Validate([]Edit{{Find: big, Replace: "y"}}, DefaultLimits, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventSingleTooLong)
}

func TestValidateRejectsTooManyLines(t *testing.T) {
	var fired []MetricEvent
	find := strings.Repeat("a\n", 250)
	r := Validate([]Edit{{Find: find, Replace: "y"}}, DefaultLimits, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventTooManyLines)
}

func TestValidateRejectsTotalTooLarge(t *testing.T) {
	var fired []MetricEvent
	edits := make([]Edit, 20)
	for i := range edits {
		edits[i] = Edit{Find: strings.Repeat("a", 2000), Replace: strings.Repeat("b", 2000)}
	}
	r := Validate(edits, DefaultLimits, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventTotalTooLarge)
}

func TestValidateRawRejectsNonArray(t *testing.T) {
	var fired []MetricEvent
	r := ValidateRaw("not-an-array", Limits{}, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventNotArray)
}

func TestValidateRawRejectsBadItem(t *testing.T) {
	var fired []MetricEvent
	r := ValidateRaw([]any{map[string]any{"find": 5, "replace": "y"}}, Limits{}, func(e MetricEvent) { fired = append(fired, e) })
	assert.False(t, r.Valid)
	assert.Contains(t, fired, EventBadItem)
}

func TestValidateRawAcceptsWellFormed(t *testing.T) {
	r := ValidateRaw([]any{map[string]any{"find": "a", "replace": "b"}}, Limits{}, nil)
	assert.True(t, r.Valid)
}

func TestClampThreshold(t *testing.T) {
	assert.Equal(t, 0.8, ClampThreshold(0))
	assert.Equal(t, 0.1, ClampThreshold(0.01))
	assert.Equal(t, 1.0, ClampThreshold(5))
	assert.Equal(t, 0.5, ClampThreshold(0.5))
}

func TestClampMaxSuggestions(t *testing.T) {
	assert.Equal(t, 3, ClampMaxSuggestions(0))
	assert.Equal(t, 1, ClampMaxSuggestions(-2))
	assert.Equal(t, 10, ClampMaxSuggestions(99))
}

func TestWithTimeoutReturnsWorkResult(t *testing.T) {
	val, err := WithTimeout(context.Background(), time.Second, nil, func(ctx context.Context) (any, error) {
		return "done", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", val)
}

func TestWithTimeoutFiresOnDeadline(t *testing.T) {
	var fired []MetricEvent
	_, err := WithTimeout(context.Background(), 10*time.Millisecond, func(e MetricEvent) { fired = append(fired, e) },
		func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, errors.New("too slow")
		})
	require.Error(t, err)
	assert.Contains(t, fired, EventTimeout)
}
