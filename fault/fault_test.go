package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"xdao.co/channels/directory"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"not found", directory.Errorf(directory.CodeNotFound, "probe", "No such channel"), NotFound},
		{"unauthorized", directory.Errorf(directory.CodeUnauthorized, "create", "not authorized"), Unauthorized},
		{"quota", directory.Errorf(directory.CodeQuotaExhausted, "fund", "over budget"), Other},
		{"unavailable", directory.Errorf(directory.CodeUnavailable, "probe", "connection refused"), Other},
		{"wrapped code", fmt.Errorf("outer: %w", directory.Errorf(directory.CodeNotFound, "probe", "gone")), NotFound},
		{"unstructured", errors.New("No such channel"), Other},
		{"context", context.DeadlineExceeded, Other},
		{"local budget", New(MissingBudget, "reconcile", "no delegate"), MissingBudget},
		{"local source", New(MissingFundingSource, "reconcile", "no token"), MissingFundingSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestWrapKeepsRemoteMessage(t *testing.T) {
	remote := directory.Errorf(directory.CodeUnauthorized, "create", "token already consumed")
	err := Wrap("create channel", remote)

	assert.True(t, IsKind(err, Unauthorized))
	assert.True(t, errors.Is(err, remote))
	assert.Equal(t, "Unauthorized: create channel: token already consumed", err.Error())
	assert.Nil(t, Wrap("noop", nil))
	assert.Same(t, err, Wrap("again", err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(directory.Errorf(directory.CodeUnavailable, "probe", "down")))
	assert.False(t, Retryable(directory.Errorf(directory.CodeInternal, "probe", "boom")))
	assert.False(t, Retryable(nil))
}
