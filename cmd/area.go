package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warpaintvision/shopsite/internal/export"
)

var (
	areaFormat  string
	areaOut     string
	areaSources sourceFlags
)

var areaCmd = &cobra.Command{
	Use:   "area [name]",
	Short: "Rank candidate shop sites in a configured area",
	Long:  "Loads the area's layers, runs the suitability pipeline and writes the ranked faces as GeoJSON or an XLSX report.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("area"); err != nil {
			return err
		}

		name := "szeged"
		if len(args) == 1 {
			name = args[0]
		}

		e, err := newEnv(ctx, cfg, areaSources)
		if err != nil {
			return err
		}
		defer e.Close()

		var w io.Writer = os.Stdout
		if areaOut != "" && areaOut != "-" {
			f, err := os.Create(areaOut)
			if err != nil {
				return eris.Wrapf(err, "area: create %s", areaOut)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		return runArea(ctx, e, name, areaFormat, w)
	},
}

// runArea computes the ranked result for the named area and writes it to w.
func runArea(ctx context.Context, e *env, name, format string, w io.Writer) error {
	bbox, err := lookupArea(e.cfg, name)
	if err != nil {
		return err
	}
	if format != "geojson" && format != "xlsx" {
		return eris.Errorf("area: unknown format %q (want geojson or xlsx)", format)
	}

	layers, err := e.source.Load(ctx, bbox)
	if err != nil {
		return eris.Wrap(err, "area: load layers")
	}
	zap.L().Info("layers loaded", zap.String("area", name), zap.Int("features", layers.Count()))

	res, err := e.engine(ctx).Compute(ctx, layers, suitabilityConfig(e.cfg))
	if err != nil {
		return eris.Wrap(err, "area: compute")
	}

	opts := export.Options{Projection: e.kernel.Projection()}
	if format == "xlsx" {
		return export.WriteXLSX(w, res, opts)
	}

	fc, err := export.Ranked(res, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return eris.Wrap(err, "area: write geojson")
	}
	return nil
}

func init() {
	areaCmd.Flags().StringVar(&areaFormat, "format", "geojson", "output format: geojson or xlsx")
	areaCmd.Flags().StringVarP(&areaOut, "out", "o", "", "output file (default stdout)")
	addSourceFlags(areaCmd, &areaSources)
	rootCmd.AddCommand(areaCmd)
}
