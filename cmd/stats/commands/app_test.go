package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategyFlag(t *testing.T) {
	id, owner, err := parseStrategyFlag("7=trader-7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "trader-7", owner)

	for _, bad := range []string{"7", "7=", "x=trader", "0=trader", "-1=trader"} {
		_, _, err := parseStrategyFlag(bad)
		assert.Error(t, err, bad)
	}
}

func TestSubmitterFor(t *testing.T) {
	assert.False(t, submitterFor("").RequireOwner, "operator runs skip the owner check")

	s := submitterFor("trader-1")
	assert.True(t, s.RequireOwner)
	assert.Equal(t, "trader-1", s.MemberID)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"api", "import", "rebuild", "verify", "purge", "migrate", "scheduler"} {
		assert.True(t, names[want], want)
	}
}
