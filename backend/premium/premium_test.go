// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package premium

import (
	"context"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"inference-gateway/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBedrock struct {
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeBedrock) Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.output, f.err
}

func TestNewRejectsMissingRegion(t *testing.T) {
	_, err := New(context.Background(), "premium", Config{ModelID: "anthropic.claude-3-sonnet"})
	require.Error(t, err)
}

func TestNewRejectsMissingModelID(t *testing.T) {
	_, err := New(context.Background(), "premium", Config{Region: "us-east-1"})
	require.Error(t, err)
}

func TestExecuteParsesConverseOutput(t *testing.T) {
	fake := &fakeBedrock{output: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "premium answer"}}},
		},
		StopReason: types.StopReasonEndTurn,
		Usage:      &types.TokenUsage{TotalTokens: aws.Int32(42)},
	}}
	a, err := New(context.Background(), "premium", Config{Region: "us-east-1", ModelID: "anthropic.claude-3-sonnet", Client: fake})
	require.NoError(t, err)

	resp, err := a.Execute(context.Background(), "hi", backend.Options{})
	require.NoError(t, err)
	assert.Equal(t, "premium answer", resp.Content)
	assert.Equal(t, 42, resp.TokenCount)
}

func TestExecuteRejectsEmptyContent(t *testing.T) {
	fake := &fakeBedrock{output: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{Content: nil}},
	}}
	a, err := New(context.Background(), "premium", Config{Region: "us-east-1", ModelID: "anthropic.claude-3-sonnet", Client: fake})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "hi", backend.Options{})
	require.Error(t, err)
}

func TestExecuteClassifiesThrottling(t *testing.T) {
	respErr := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: 429}},
	}
	fake := &fakeBedrock{err: respErr}
	a, err := New(context.Background(), "premium", Config{Region: "us-east-1", ModelID: "anthropic.claude-3-sonnet", Client: fake})
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), "hi", backend.Options{})
	require.Error(t, err)
}
