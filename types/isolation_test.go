package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestIsolationKeyDerivation(t *testing.T) {
	t.Parallel()
	require.Equal(t, "agent:1:user:u1", types.IsolationKey(1, "u1", ""))
	require.Equal(t, "agent:1:user:u1:thread:t1", types.IsolationKey(1, "u1", "t1"))
	require.NotEqual(t, types.IsolationKey(1, "u1", ""), types.IsolationKey(2, "u1", ""))
}

func TestSharingRuleExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()

	open := types.SharingRule{}
	require.False(t, open.Expired(now))

	exp := now.Add(-time.Second)
	stale := types.SharingRule{ExpiresAt: &exp}
	require.True(t, stale.Expired(now))
}

func TestSharingRuleAppliesTo(t *testing.T) {
	t.Parallel()

	all := types.SharingRule{}
	require.True(t, all.AppliesTo("read"))
	require.True(t, all.AppliesTo("delete"))

	readOnly := types.SharingRule{Operations: []string{"read"}}
	require.True(t, readOnly.AppliesTo("read"))
	require.False(t, readOnly.AppliesTo("write"))
}
