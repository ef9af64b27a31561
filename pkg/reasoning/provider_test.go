package reasoning

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		fmt.Errorf("read tcp: ECONNRESET"),
		fmt.Errorf("request failed with status 429"),
		fmt.Errorf("rate limit exceeded, try again later"),
		fmt.Errorf("upstream returned 503"),
		fmt.Errorf("dial tcp 127.0.0.1:11434: connection refused"),
		context.DeadlineExceeded,
		fmt.Errorf("generate: %w", context.Canceled),
	}
	for _, err := range retryable {
		assert.True(t, IsRetryable(err), "expected retryable: %v", err)
	}

	permanent := []error{
		nil,
		fmt.Errorf("invalid api key"),
		fmt.Errorf("request failed with status 400"),
		fmt.Errorf("model not found"),
	}
	for _, err := range permanent {
		assert.False(t, IsRetryable(err), "expected permanent: %v", err)
	}
}
