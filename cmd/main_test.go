package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
)

func TestFlags_Config(t *testing.T) {
	t.Parallel()
	f := &flags{cfg: config.Default(), before: "2020", after: "2021-01-01:2021-06-30", noExport: true}
	cfg, err := f.config()
	require.NoError(t, err)
	assert.Equal(t, config.Year(2020), cfg.Before)
	assert.Equal(t, time.Date(2021, 6, 30, 0, 0, 0, 0, time.UTC), cfg.After.End)
	assert.False(t, cfg.Export)
	assert.True(t, cfg.Notify)

	f.after = "June"
	_, err = f.config()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	f.after = ""
	f.cfg.Workers = 0
	_, err = f.config()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRootCmd_FlagsOverrideDefaults(t *testing.T) {
	t.Parallel()
	root := newRootCmd()
	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "composite", "aois"}, names)

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	require.NoError(t, run.ParseFlags([]string{"--delta=-0.3", "--max-cloud=20", "--aoi=-63,-11,-62,-10"}))
	assert.Equal(t, "-0.3", run.Flag("delta").Value.String())
	assert.Equal(t, "20", run.Flag("max-cloud").Value.String())
	assert.Equal(t, "-63,-11,-62,-10", run.Flag("aoi").Value.String())
}
