package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"labos/internal/scanner/anchor"
	"labos/internal/scanner/geo"
	"labos/internal/scanner/pipeline"
	"labos/internal/scanner/scale"
)

var (
	flagInput     string
	flagOut       string
	flagBackend   string
	flagMaxFrames int
	flagFPS       float64

	flagRegime          string
	flagExpectedSizeMin float64
	flagExpectedSizeMax float64
	flagHardBoundsMin   float64
	flagHardBoundsMax   float64
	flagRefDistanceM    float64
	flagRefPair         string
	flagRefScaleFactor  float64
	flagAllowWeakScale  bool
	flagAllowAutoscale  bool

	flagBoardSpec  string
	flagDetections string

	flagGCPFile       string
	flagGeoregMode    string
	flagGeoregSpace   string
	flagGeoregMaxRMSE float64

	flagMetricsHTML bool
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the capture-to-point-cloud pipeline",
	Long: `Runs ingest, metadata extraction, frame extraction, COLMAP
reconstruction, PLY export, anchor resolution, scale application,
reference framing, georegistration, and reporting over one input video.

The scale regime picks sane expected-size defaults (small_object, room,
aerial); explicit ranges and reference measurements override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagInput == "" {
			return usagef("--input is required")
		}
		if flagOut == "" {
			return usagef("--out is required")
		}
		policy, err := buildScalePolicy(cmd)
		if err != nil {
			return err
		}
		if policy.RefScaleFactor != nil {
			logger.Warn("user-provided scale factor override in use; verify metrology separately",
				"factor", *policy.RefScaleFactor)
		}
		georegCfg, err := buildGeoregConfig(cmd)
		if err != nil {
			return err
		}

		summary, err := pipeline.Run(cmd.Context(), pipeline.Options{
			InputPath:      flagInput,
			OutputDir:      flagOut,
			Backend:        flagBackend,
			FPS:            flagFPS,
			MaxFrames:      flagMaxFrames,
			ScalePolicy:    policy,
			BoardSpecPath:  flagBoardSpec,
			DetectionsPath: flagDetections,
			GateConfig:     anchor.DefaultGateConfig(),
			Georeg:         georegCfg,
			MetricsHTML:    flagMetricsHTML,
			Logger:         logger,
		})
		if err != nil {
			var stageErr *pipeline.StageError
			if errors.As(err, &stageErr) {
				return fmt.Errorf("pipeline failed at stage %s: %w (partial reports written to %s)",
					stageErr.Stage, stageErr.Err, flagOut)
			}
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "reconstruction complete: %s\n", summary.Ingest.OutputDir)
		fmt.Fprintf(out, "frames extracted: %d\n", summary.Frames.FrameCount)
		if summary.Scale != nil {
			fmt.Fprintf(out, "scale: factor %.6f from %s (%s confidence)\n",
				summary.Scale.AppliedFactor, summary.Scale.Source, summary.Scale.Confidence)
			for _, warning := range summary.Scale.Warnings {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}
		}
		if summary.ReferenceFrame != nil {
			fmt.Fprintf(out, "reference frame: %s\n", summary.ReferenceFrame.Source)
		}
		if summary.Georeg != nil && summary.Georeg.Solved {
			fmt.Fprintln(out, "georegistration: solved")
		}
		return nil
	},
}

// buildScalePolicy maps the scale flags onto a policy, treating unset
// optional floats as absent rather than zero.
func buildScalePolicy(cmd *cobra.Command) (scale.Policy, error) {
	regime, err := scale.ParseRegime(flagRegime)
	if err != nil {
		return scale.Policy{}, usageError{err: err}
	}
	policy := scale.Policy{
		Regime:         regime,
		AllowWeakScale: flagAllowWeakScale,
		AllowAutoscale: flagAllowAutoscale,
	}
	optional := func(name string, value float64) *float64 {
		if cmd.Flags().Changed(name) {
			v := value
			return &v
		}
		return nil
	}
	if min, max := optional("expected-size-min-m", flagExpectedSizeMin), optional("expected-size-max-m", flagExpectedSizeMax); min != nil || max != nil {
		policy.ExpectedSizeM = &scale.Range{MinM: min, MaxM: max}
	}
	if min, max := optional("hard-bounds-min-m", flagHardBoundsMin), optional("hard-bounds-max-m", flagHardBoundsMax); min != nil || max != nil {
		policy.HardBoundsM = &scale.Range{MinM: min, MaxM: max}
	}
	policy.RefDistanceM = optional("ref-distance-m", flagRefDistanceM)
	policy.RefScaleFactor = optional("ref-scale-factor", flagRefScaleFactor)
	if flagRefPair != "" {
		pair, err := scale.ParseRefPair(flagRefPair)
		if err != nil {
			return scale.Policy{}, usageError{err: err}
		}
		policy.RefPair = &pair
	}
	if policy.RefPair != nil && policy.RefDistanceM == nil {
		return scale.Policy{}, usagef("--ref-pair requires --ref-distance-m")
	}
	return policy, nil
}

func buildGeoregConfig(cmd *cobra.Command) (geo.Config, error) {
	cfg := geo.DefaultConfig()
	switch flagGeoregMode {
	case geo.ModeOff, geo.ModeTry, geo.ModeRequire:
		cfg.Mode = flagGeoregMode
	default:
		return geo.Config{}, usagef("--georeg-mode must be off, try, or require, got %q", flagGeoregMode)
	}
	if flagGeoregSpace != "" {
		cfg.Space = flagGeoregSpace
	}
	if cmd.Flags().Changed("georeg-max-rmse-m") {
		cfg.MaxRMSEM = flagGeoregMaxRMSE
	}
	cfg.GCPFile = flagGCPFile
	if cfg.Mode == geo.ModeRequire && cfg.GCPFile == "" {
		return geo.Config{}, usagef("--georeg-mode require needs --gcp-file")
	}
	return cfg, nil
}

func init() {
	f := pipelineCmd.Flags()
	f.StringVar(&flagInput, "input", "", "Input video path")
	f.StringVar(&flagOut, "out", "", "Run output directory")
	f.StringVar(&flagBackend, "backend", "colmap", "Reconstruction backend")
	f.IntVar(&flagMaxFrames, "max-frames", 0, "Cap on extracted frames (0 = no cap)")
	f.Float64Var(&flagFPS, "fps", 0, "Frame sampling rate (0 = every frame)")

	f.StringVar(&flagRegime, "regime", string(scale.RegimeSmallObject), "Scale regime: small_object, room_building, aerial")
	f.Float64Var(&flagExpectedSizeMin, "expected-size-min-m", 0, "Expected scene extent lower bound in meters")
	f.Float64Var(&flagExpectedSizeMax, "expected-size-max-m", 0, "Expected scene extent upper bound in meters")
	f.Float64Var(&flagHardBoundsMin, "hard-bounds-min-m", 0, "Hard extent lower bound in meters")
	f.Float64Var(&flagHardBoundsMax, "hard-bounds-max-m", 0, "Hard extent upper bound in meters")
	f.Float64Var(&flagRefDistanceM, "ref-distance-m", 0, "Known distance between the reference point pair, meters")
	f.StringVar(&flagRefPair, "ref-pair", "", "Reference point pair indices as i:j")
	f.Float64Var(&flagRefScaleFactor, "ref-scale-factor", 0, "Explicit model-to-meters scale factor")
	f.BoolVar(&flagAllowWeakScale, "allow-weak-scale", false, "Accept small_object runs without a reference measurement")
	f.BoolVar(&flagAllowAutoscale, "allow-autoscale", false, "Rescale to the expected range when no reference is available")

	f.StringVar(&flagBoardSpec, "board-spec", "", "Anchor board spec JSON; enables the anchor stage")
	f.StringVar(&flagDetections, "detections", "", "Marker detections JSON for the anchor stage")

	f.StringVar(&flagGCPFile, "gcp-file", "", "Ground control points file for georegistration")
	f.StringVar(&flagGeoregMode, "georeg-mode", geo.ModeOff, "Georegistration mode: off, try, require")
	f.StringVar(&flagGeoregSpace, "georeg-space", "", "Georegistration target space")
	f.Float64Var(&flagGeoregMaxRMSE, "georeg-max-rmse-m", 0.05, "Maximum acceptable GCP RMSE in meters")

	f.BoolVar(&flagMetricsHTML, "metrics-html", false, "Render metrics.html alongside the JSON reports")
}
