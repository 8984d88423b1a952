package report

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/aggregate"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/raster"
)

var (
	heading = color.New(color.FgBlue, color.Bold)
	info    = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
)

func exactness(exact, fellBack bool, scale float64) string {
	switch {
	case exact:
		return "exact"
	case fellBack:
		return fmt.Sprintf("coarse %.0fm, best effort", scale)
	default:
		return fmt.Sprintf("coarse %.0fm", scale)
	}
}

func formatMean(m aggregate.MeanResult) string {
	if raster.IsNoData(m.Mean) {
		return "no data"
	}
	return fmt.Sprintf("%.4f", m.Mean)
}

// Print writes s to w the way the CLI reports a run.
func Print(w io.Writer, s Summary) {
	heading.Fprintf(w, "\n=== %s (run %s) ===\n", s.AOI, s.RunID)
	for _, p := range s.Periods {
		info.Fprintf(w, "Images for %s: %d of %d queried\n", p.Label, p.Scenes, p.Queried)
		if p.Scenes == 0 {
			warn.Fprintf(w, "No usable scenes for %s, its composite is empty\n", p.Label)
		}
		info.Fprintf(w, "%s NDVI mean (%s): %s over %d samples, coverage %.1f%%\n",
			p.Label, exactness(p.NDVIMean.Exact, p.NDVIMean.FellBack, p.NDVIMean.Scale), formatMean(p.NDVIMean), p.NDVIMean.Count, p.Coverage())
	}
	if s.Loss != nil {
		info.Fprintf(w, "Loss criteria: NDVI change < %.2f and current NDVI < %.2f\n", s.Thresholds.Delta, s.Thresholds.Absolute)
		info.Fprintf(w, "Flagged pixels: %d\n", s.LossPixels)
		info.Fprintf(w, "Estimated potential forest loss area (km², %s): %.4f\n", exactness(s.Loss.Exact, s.Loss.FellBack, s.Loss.Scale), s.Loss.SquareKilometres())
		if s.Loss.FellBack {
			warn.Fprintf(w, "The pixel budget forced a coarser scale than requested; the area is approximate\n")
		}
	}
	for _, o := range s.Outputs {
		info.Fprintf(w, "Wrote %s\n", o)
	}
	for _, e := range s.Exports {
		info.Fprintf(w, "Export started: %s\n", e)
	}
	info.Fprintf(w, "Finished in %s\n", s.Duration.Round(time.Millisecond))
}
