package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RetrieveClaimConcurrency)
	assert.Equal(t, 5, cfg.VerifyClaimConcurrency)
	assert.Equal(t, 3, cfg.JudgeClaimConcurrency)
	assert.Equal(t, 12, cfg.MaxClaims)
	assert.Equal(t, 2500, cfg.MaxContentWords)
	assert.Equal(t, 10, cfg.MaxSourcesPerClaim)
	assert.InDelta(t, 0.70, cfg.SourceCredibilityThreshold, 1e-9)
	assert.InDelta(t, 0.95, cfg.OutstandingSourceThreshold, 1e-9)
	assert.Equal(t, 3, cfg.MinSourcesForVerdict)
	assert.InDelta(t, 0.75, cfg.MinCredibilityThreshold, 1e-9)
	assert.InDelta(t, 0.65, cfg.MinConsensusStrength, 1e-9)
	assert.Equal(t, 10*time.Second, cfg.SearchWarmupDelay)
	assert.Equal(t, "cne", cfg.NLILabelOrder)
	assert.Equal(t, "US", cfg.LegalDefaultJurisdiction)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MIN_SOURCES_FOR_VERDICT", "5")
	t.Setenv("NLI_LABEL_ORDER", "enc")
	t.Setenv("VERIFICATION_TIMEOUT_SECONDS", "45")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MinSourcesForVerdict)
	assert.Equal(t, "enc", cfg.NLILabelOrder)
	assert.Equal(t, 45*time.Second, cfg.VerificationTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.NLILabelOrder = "nec"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SourceCredibilityThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.GlobalMaxDomainRatio = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.VerifyClaimConcurrency = 0
	assert.Error(t, bad.Validate())
}
