//go:build linux

package sysclock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadKernel(t *testing.T) {
	k, err := ReadKernel()
	if err != nil {
		t.Skipf("adjtimex unavailable in this environment: %v", err)
	}
	require.NotNil(t, k)

	assert.NotEmpty(t, k.SyncStatus())
	assert.InDelta(t, 0, k.FrequencyPPM(), 500)
}
