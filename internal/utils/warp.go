package utils

import (
	"strconv"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

// WarpSwitches are the gdalwarp arguments that resample a dataset onto g with
// nearest neighbour, leaving uncovered pixels as NaN.
func WarpSwitches(g raster.Grid, format string) []string {
	b := g.Bound()
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		"-of", format,
		"-t_srs", g.CRS,
		"-te", f(b.Min[0]), f(b.Min[1]), f(b.Max[0]), f(b.Max[1]),
		"-ts", strconv.Itoa(g.Width), strconv.Itoa(g.Height),
		"-r", "near",
		"-ot", "Float64",
		"-dstnodata", "nan",
	}
}
