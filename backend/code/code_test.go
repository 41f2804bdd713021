// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package code

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"inference-gateway/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	status int
	body   string
}

func (c *fakeClient) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: c.status, Body: io.NopCloser(strings.NewReader(c.body)), Header: make(http.Header)}, nil
}

func TestNewRejectsMissingAPIKey(t *testing.T) {
	_, err := New("code", Config{})
	require.Error(t, err)
}

func TestExecuteParsesCandidateText(t *testing.T) {
	client := &fakeClient{status: 200, body: `{"candidates":[{"content":{"parts":[{"text":"func main() {}"}]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":12}}`}
	a, err := New("code", Config{APIKey: "k", Model: "gemini-code", Client: client})
	require.NoError(t, err)

	resp, err := a.Execute(context.Background(), "write a noop", backend.Options{})
	require.NoError(t, err)
	assert.Equal(t, "func main() {}", resp.Content)
	assert.Equal(t, 12, resp.TokenCount)
}

func TestExecuteRejectsNoCandidates(t *testing.T) {
	client := &fakeClient{status: 200, body: `{"candidates":[]}`}
	a, err := New("code", Config{APIKey: "k", Model: "gemini-code", Client: client})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "x", backend.Options{})
	require.Error(t, err)
}

func TestExecuteClassifies429(t *testing.T) {
	client := &fakeClient{status: 429, body: `{}`}
	a, err := New("code", Config{APIKey: "k", Model: "gemini-code", Client: client})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "x", backend.Options{})
	require.Error(t, err)
}
