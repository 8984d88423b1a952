package utils

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

func TestGetSortedKeys(t *testing.T) {
	t.Parallel()
	d := func(day int) time.Time { return time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC) }
	m := map[time.Time]string{d(3): "c", d(1): "a", d(2): "b"}

	assert.Equal(t, []time.Time{d(1), d(2), d(3)}, GetSortedKeys(m, true))
	assert.Equal(t, []time.Time{d(3), d(2), d(1)}, GetSortedKeys(m, false))
}

func TestDays(t *testing.T) {
	t.Parallel()
	start := time.Date(2023, 12, 30, 15, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	days := Days(start, end)
	assert.Len(t, days, 3)
	assert.Equal(t, time.Date(2023, 12, 30, 0, 0, 0, 0, time.UTC), days[0])
	assert.Equal(t, end, days[2])

	assert.Empty(t, Days(end, start))
}

func TestWithGDAL(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	inside := 0
	maxInside := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = WithGDAL(func() error {
				inside++
				maxInside = max(maxInside, inside)
				inside--
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)

	boom := errors.New("boom")
	assert.ErrorIs(t, WithGDAL(func() error { return boom }), boom)
}

func TestWarpSwitches(t *testing.T) {
	t.Parallel()
	g := raster.Grid{Width: 500, Height: 400, GeoTransform: [6]float64{-65, 0.01, 0, -8, 0, -0.01}, CRS: "EPSG:4326"}
	sw := WarpSwitches(g, "GTiff")
	assert.Equal(t, []string{
		"-of", "GTiff",
		"-t_srs", "EPSG:4326",
		"-te", "-65", "-12", "-60", "-8",
		"-ts", "500", "400",
		"-r", "near",
		"-ot", "Float64",
		"-dstnodata", "nan",
	}, sw)
}
