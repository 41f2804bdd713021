// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetStringDefault(t *testing.T) {
	assert.Equal(t, "default", GetString("GHC_TEST_UNSET_STRING", "default"))
}

func TestGetIntParsesOrDefaults(t *testing.T) {
	t.Setenv("GHC_TEST_INT", "42")
	assert.Equal(t, 42, GetInt("GHC_TEST_INT", 7))
	assert.Equal(t, 7, GetInt("GHC_TEST_INT_UNSET", 7))

	t.Setenv("GHC_TEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, GetInt("GHC_TEST_INT_BAD", 7))
}

func TestGetFloat(t *testing.T) {
	t.Setenv("GHC_TEST_FLOAT", "0.8")
	assert.InDelta(t, 0.8, GetFloat("GHC_TEST_FLOAT", 0.5), 0.0001)
	assert.InDelta(t, 0.5, GetFloat("GHC_TEST_FLOAT_UNSET", 0.5), 0.0001)
}

func TestGetBoolVariants(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "on": true, "false": false, "0": false, "no": false, "off": false}
	for raw, want := range cases {
		t.Setenv("GHC_TEST_BOOL", raw)
		assert.Equal(t, want, GetBool("GHC_TEST_BOOL", !want), "raw=%s", raw)
	}
	assert.True(t, GetBool("GHC_TEST_BOOL_UNSET", true))
}

func TestGetDurationSeconds(t *testing.T) {
	t.Setenv("GHC_TEST_DURATION", "30")
	assert.Equal(t, 30*time.Second, GetDurationSeconds("GHC_TEST_DURATION", 5*time.Second))
	assert.Equal(t, 5*time.Second, GetDurationSeconds("GHC_TEST_DURATION_UNSET", 5*time.Second))
}

func TestGetStringSlice(t *testing.T) {
	t.Setenv("GHC_TEST_SLICE", "a, b ,c,,")
	assert.Equal(t, []string{"a", "b", "c"}, GetStringSlice("GHC_TEST_SLICE"))
	assert.Nil(t, GetStringSlice("GHC_TEST_SLICE_UNSET"))
}
