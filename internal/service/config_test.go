package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigOptionsOverrideDefaults(t *testing.T) {
	cfg := DefaultConfig()
	WithK(5)(&cfg)
	WithM(12)(&cfg)
	WithCapacity(64)(&cfg)
	WithProfile(ProfileCore)(&cfg)
	WithBootstraps([]string{"a", "b"})(&cfg)

	assert.Equal(t, 5, cfg.K)
	assert.Equal(t, 12, cfg.M)
	assert.Equal(t, 64, cfg.Capacity)
	assert.Equal(t, ProfileCore, cfg.Profile)
	assert.Equal(t, []string{"a", "b"}, cfg.Bootstraps)
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Profile = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestBudgetsForDiffersByProfile(t *testing.T) {
	edge := BudgetsFor(ProfileEdge)
	core := BudgetsFor(ProfileCore)
	assert.Less(t, edge.InflightMaybeAct, core.InflightMaybeAct)
	assert.Less(t, edge.AnnounceFanout, core.AnnounceFanout)
}
