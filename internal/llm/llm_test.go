package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClientReturnsConfiguredResponses(t *testing.T) {
	s := &StubClient{Responses: []string{"first", "second"}}
	r1, err := s.Complete(context.Background(), "prompt-a")
	require.NoError(t, err)
	assert.Equal(t, "first", r1)

	r2, err := s.Complete(context.Background(), "prompt-b")
	require.NoError(t, err)
	assert.Equal(t, "second", r2)

	r3, err := s.Complete(context.Background(), "prompt-c")
	require.NoError(t, err)
	assert.Equal(t, "second", r3, "repeats last response once exhausted")

	assert.Equal(t, 3, s.Calls())
}

func TestStubClientReturnsConfiguredError(t *testing.T) {
	s := &StubClient{Err: errors.New("boom")}
	_, err := s.Complete(context.Background(), "prompt")
	assert.Error(t, err)
}

func TestStubClientWithNoResponsesErrors(t *testing.T) {
	s := &StubClient{}
	_, err := s.Complete(context.Background(), "prompt")
	assert.Error(t, err)
}
