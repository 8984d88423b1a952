package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/config"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/delivery"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/notification"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/properties"
	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/scene"
)

func printBanner() {
	figure1 := figure.NewFigure("Rondonia", "isometric1", true)
	figure2 := figure.NewFigure("NDVI", "isometric1", true)
	bannercolor.Cyan(figure1.String())
	bannercolor.Cyan(figure2.String())
	fmt.Println()
}

// flags are the command line overrides of config.Default.
type flags struct {
	cfg      config.Config
	before   string
	after    string
	period   string
	noExport bool
	noNotify bool
}

func (f *flags) bind(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&f.cfg.AOI, "aoi", f.cfg.AOI, "AOI rectangle minLon,minLat,maxLon,maxLat or GeoJSON name under data/geojsons")
	pf.StringVar(&f.cfg.AOIID, "aoi-id", "", "aoi_id of the feature to use from the GeoJSON file")
	pf.StringVar(&f.cfg.Source, "source", f.cfg.Source, "scene source: catalog or copernicus")
	pf.StringVar(&f.cfg.Collection, "collection", f.cfg.Collection, "image collection id")
	pf.Float64Var(&f.cfg.MaxCloudPct, "max-cloud", f.cfg.MaxCloudPct, "keep scenes with a cloudy pixel percentage below this")
	pf.Float64Var(&f.cfg.ExportScale, "export-scale", f.cfg.ExportScale, "export resolution in metres")
	pf.Float64Var(&f.cfg.ExportMaxPixels, "export-max-pixels", f.cfg.ExportMaxPixels, "skip exports larger than this")
	pf.StringVar(&f.cfg.CRS, "crs", f.cfg.CRS, "export CRS")
	pf.StringVar(&f.cfg.ExportFolder, "export-folder", f.cfg.ExportFolder, "export folder name")
	pf.Float64Var(&f.cfg.Aggregation.Scale, "agg-scale", f.cfg.Aggregation.Scale, "area and mean sampling scale in metres, 0 for native")
	pf.Float64Var(&f.cfg.Aggregation.MaxPixels, "agg-max-pixels", f.cfg.Aggregation.MaxPixels, "sample budget before the scale is coarsened")
	pf.IntVar(&f.cfg.TileSize, "tile-size", f.cfg.TileSize, "tile side in pixels")
	pf.IntVar(&f.cfg.Workers, "workers", f.cfg.Workers, "concurrent tiles")
	pf.StringVar(&f.cfg.OutputDir, "output", "", "output folder (default <ROOT_PATH>/data/result)")
	pf.BoolVar(&f.cfg.NoCache, "no-cache", false, "ignore cached loss estimates")
	pf.BoolVar(&f.noExport, "no-export", false, "do not write GeoTIFF exports")
	pf.BoolVar(&f.noNotify, "no-notify", false, "do not post to Discord")
}

// config applies the parsed flags.
func (f *flags) config() (config.Config, error) {
	cfg := f.cfg
	cfg.Export = !f.noExport
	cfg.Notify = !f.noNotify
	var err error
	if f.before != "" {
		if cfg.Before, err = config.ParsePeriod(f.before); err != nil {
			return cfg, err
		}
	}
	if f.after != "" {
		if cfg.After, err = config.ParsePeriod(f.after); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func newRootCmd() *cobra.Command {
	f := &flags{cfg: config.Default()}
	root := &cobra.Command{
		Use:           "rondonia",
		Short:         "NDVI quality mosaics and forest loss detection for the Rondonia hotspot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f.bind(root)

	run := &cobra.Command{
		Use:   "run",
		Short: "Compare two periods and estimate potential forest loss",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, func(ctx context.Context, r *delivery.Runner) error {
				_, err := r.AnalyzeLoss(ctx)
				return err
			})
		},
	}
	run.Flags().StringVar(&f.before, "before", "2023", "earlier period, YYYY or YYYY-MM-DD:YYYY-MM-DD")
	run.Flags().StringVar(&f.after, "after", "2024", "later period, YYYY or YYYY-MM-DD:YYYY-MM-DD")
	run.Flags().Float64Var(&f.cfg.Thresholds.Delta, "delta", f.cfg.Thresholds.Delta, "flag pixels whose NDVI change is below this")
	run.Flags().Float64Var(&f.cfg.Thresholds.Absolute, "absolute", f.cfg.Thresholds.Absolute, "flag pixels whose later NDVI is below this")

	composite := &cobra.Command{
		Use:   "composite",
		Short: "Build, summarise and export the NDVI composite of one period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.config()
			if err != nil {
				return err
			}
			p, err := config.ParsePeriod(f.period)
			if err != nil {
				return err
			}
			return execute(cmd.Context(), cfg, func(ctx context.Context, r *delivery.Runner) error {
				_, err := r.CompositePeriod(ctx, p)
				return err
			})
		},
	}
	composite.Flags().StringVar(&f.period, "period", "2024", "period, YYYY or YYYY-MM-DD:YYYY-MM-DD")

	aois := &cobra.Command{
		Use:   "aois",
		Short: "List the AOIs available in data/geojsons",
		RunE: func(*cobra.Command, []string) error {
			return listAOIs()
		},
	}

	root.AddCommand(run, composite, aois)
	return root
}

func execute(ctx context.Context, cfg config.Config, fn func(context.Context, *delivery.Runner) error) error {
	r, err := delivery.NewRunner(cfg)
	if err != nil {
		return err
	}
	err = fn(ctx, r)
	// Exports run in the background and must finish before the process exits.
	r.Wait()
	if err != nil && cfg.Notify && !errors.Is(err, context.Canceled) {
		if nerr := notification.SendDiscordErrorNotification(fmt.Sprintf("Rondonia monitor\n\n%s", err.Error())); nerr != nil {
			log.Printf("main: failed to send notification: %v", nerr)
		}
	}
	return err
}

func listAOIs() error {
	names, err := delivery.ListAOIs()
	if err != nil {
		return err
	}
	bannercolor.Yellow("\nWarning:")
	bannercolor.Yellow("To add a new AOI, add its '.geojson' file to the 'data/geojsons' folder.")
	bannercolor.Yellow("Features are selected with --aoi-id through their 'aoi_id' property.\n")
	bannercolor.Green("Available AOIs:")
	for _, name := range names {
		ids, err := scene.ListAOIIDs(properties.DataPath(config.DefaultGeoJSONDirectory, name+".geojson"))
		if err != nil {
			bannercolor.Red("- %s (%v)", name, err)
			continue
		}
		if len(ids) == 0 {
			bannercolor.Green("- %s", name)
			continue
		}
		bannercolor.Green("- %s: %s", name, strings.Join(ids, ", "))
	}
	return nil
}

// recoverPanic reports a panic to the error webhook before the process dies.
func recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	pc, file, line, ok := runtime.Caller(3)
	location := "Unknown location"
	if ok {
		location = fmt.Sprintf("%s:%d in %s", filepath.Base(file), line, runtime.FuncForPC(pc).Name())
	}
	bannercolor.Red("\nPANIC: %v", r)
	bannercolor.Red("Location: %s", location)
	bannercolor.Red("Please check the input and try again.")

	errMessage := fmt.Sprintf("Rondonia monitor panic:\n\n%v\n\nLocation: %s\n\nStack trace:\n%s", r, location, debug.Stack())
	if err := notification.SendDiscordErrorNotification(errMessage); err != nil {
		bannercolor.Red("Failed to send notification: %s", err.Error())
	}
	os.Exit(2)
}

func main() {
	err := godotenv.Load(".env")
	if err != nil {
		err = godotenv.Load("../.env")
		if err != nil {
			log.Printf("main: no .env file loaded, using the process environment")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code := 0
	func() {
		defer recoverPanic()
		printBanner()
		if err := newRootCmd().ExecuteContext(ctx); err != nil {
			bannercolor.Red("\nError: %s", err.Error())
			code = 1
		}
	}()
	stop()
	os.Exit(code)
}
