package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Config("template %q not found", "safety_check")
	assert.True(t, IsKind(err, KindConfig))
	assert.False(t, IsKind(err, KindTransport))
	assert.Contains(t, err.Error(), "safety_check")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransport, cause, "calling lm studio")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsKind(err, KindTransport))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindParse, nil, "ignored"))
}

func TestKindSurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("stage safety: %w", Parse("no JSON object in output"))
	assert.True(t, IsKind(err, KindParse))
}
