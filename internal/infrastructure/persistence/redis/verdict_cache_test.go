package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "tale-weaver-api/internal/workflow/model"
)

func TestVerdictEncoding(t *testing.T) {
	in := &wfmodel.ValidationResult{
		Approved:       false,
		Reasons:        []string{"too scary"},
		DetectedIssues: []string{"horror"},
		Code:           wfmodel.ValidationPolicyViolation,
		Stage:          2,
		Cached:         true,
	}
	raw, err := encodeVerdict(in)
	require.NoError(t, err)

	out, err := decodeVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, in.Reasons, out.Reasons)
	assert.Equal(t, in.Code, out.Code)
	assert.False(t, out.Cached)
}

func TestVerdictEncoding_RejectsUnavailable(t *testing.T) {
	_, err := encodeVerdict(&wfmodel.ValidationResult{Code: wfmodel.ValidationServiceUnavailable})
	assert.Error(t, err)

	_, err = encodeVerdict(nil)
	assert.Error(t, err)

	_, err = decodeVerdict([]byte(`{"approved": true}`))
	assert.Error(t, err)

	_, err = decodeVerdict([]byte(`not json`))
	assert.Error(t, err)
}

func TestBuildRateLimitKey(t *testing.T) {
	assert.Equal(t, "ratelimit:10.0.0.1:stories", BuildRateLimitKey("10.0.0.1", "stories"))
}
