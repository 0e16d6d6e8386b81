package errreport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutDSNIsNoop(t *testing.T) {
	flush, err := Init(Config{})
	require.NoError(t, err)
	require.NotNil(t, flush)

	flush()
	Capture(context.Background(), errors.New("ignored"), map[string]string{"stage": "test"})
}

func TestFilterSensitiveHeaders(t *testing.T) {
	filtered := filterSensitiveHeaders(map[string]string{
		"authorization": "Bearer abc",
		"x-api-key":     "secret",
		"accept":        "application/json",
	})

	assert.Equal(t, "[REDACTED]", filtered["authorization"])
	assert.Equal(t, "[REDACTED]", filtered["x-api-key"])
	assert.Equal(t, "application/json", filtered["accept"])
}
