package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCLI_Defaults(t *testing.T) {
	opts, err := ParseCLI(nil)
	require.NoError(t, err)
	assert.False(t, opts.NoCrossJobSharing)
	assert.Equal(t, 63094, opts.Port)
	assert.Nil(t, opts.JobWeights)
	assert.Nil(t, opts.ConfuseJobs)
}

func TestParseCLI_JobWeightsClippedAtZero(t *testing.T) {
	opts, err := ParseCLI([]string{"--job-weights", "1.5,-2,0.5"})
	require.NoError(t, err)
	require.Equal(t, []float64{1.5, 0, 0.5}, opts.JobWeights)
}

func TestParseCLI_ConfuseJobs(t *testing.T) {
	opts, err := ParseCLI([]string{"--confuse-jobs", "A=B C=D"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "B", "C": "D"}, opts.ConfuseJobs)
}

func TestParseCLI_ConfuseJobsRejectsMalformedPair(t *testing.T) {
	_, err := ParseCLI([]string{"--confuse-jobs", "A-B"})
	assert.Error(t, err)
}

func TestParseCLI_JobNamesSplit(t *testing.T) {
	opts, err := ParseCLI([]string{"--job-names", "alpha, beta,gamma"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, opts.JobNames)
}
