package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mritract/internal/models"
	"mritract/pkg/codec"
	"mritract/pkg/tractography"
	"mritract/pkg/visualization"
	"mritract/pkg/volumeops"
)

// regionPaths are the optional mask files of a tracking run
type regionPaths struct {
	mask, seed                          string
	include, includeAdd, end, contain   string
	exclude, trap, stop, track, connect string

	hybridConnect, hybridTrap, hybridExclude, hybridStop, hybridTrack string
}

func (p *regionPaths) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.mask, "mask", "", "mask restricting the kernel estimator")
	f.StringVar(&p.seed, "seed", "", "seed mask")
	f.StringVar(&p.include, "include", "", "keep curves touching every label of this mask")
	f.StringVar(&p.includeAdd, "include-add", "", "keep curves touching any label of this mask")
	f.StringVar(&p.end, "end", "", "keep curves with both endpoints in this mask")
	f.StringVar(&p.contain, "contain", "", "keep curves mostly inside this mask")
	f.StringVar(&p.exclude, "exclude", "", "discard curves entering this mask")
	f.StringVar(&p.trap, "trap", "", "stop curves leaving this mask after entering it")
	f.StringVar(&p.stop, "stop", "", "stop curves entering this mask")
	f.StringVar(&p.track, "track", "", "restrict tracking to this mask")
	f.StringVar(&p.connect, "connect", "", "stop curves on reaching a second label of this mask")
	f.StringVar(&p.hybridConnect, "hybrid-connect", "", "connect mask of the hybrid pre-tracking stage")
	f.StringVar(&p.hybridTrap, "hybrid-trap", "", "trap mask of the hybrid pre-tracking stage")
	f.StringVar(&p.hybridExclude, "hybrid-exclude", "", "exclude mask of the hybrid pre-tracking stage")
	f.StringVar(&p.hybridStop, "hybrid-stop", "", "stop mask of the hybrid pre-tracking stage")
	f.StringVar(&p.hybridTrack, "hybrid-track", "", "track mask of the hybrid pre-tracking stage")
}

func (p *regionPaths) load(in *tractography.Inputs) error {
	return loadMasks(map[**models.Mask]string{
		&in.Mask:          p.mask,
		&in.SeedMask:      p.seed,
		&in.Include:       p.include,
		&in.IncludeAdd:    p.includeAdd,
		&in.End:           p.end,
		&in.Contain:       p.contain,
		&in.Exclude:       p.exclude,
		&in.Trap:          p.trap,
		&in.Stop:          p.stop,
		&in.Track:         p.track,
		&in.Connect:       p.connect,
		&in.HybridConnect: p.hybridConnect,
		&in.HybridTrap:    p.hybridTrap,
		&in.HybridExclude: p.hybridExclude,
		&in.HybridStop:    p.hybridStop,
		&in.HybridTrack:   p.hybridTrack,
	})
}

func newTrackCmd(root *Root) *cobra.Command {
	var (
		regions         regionPaths
		hybrid          bool
		prob            bool
		strict          bool
		step            float64
		angle           float64
		minimum         float64
		seed            uint64
		threads         int
		samplesFactor   float64
		forcePath       string
		hybridPeaks     string
		hybridCurves    string
		intermediaryDir string
		snapshotDir     string
	)

	cmd := &cobra.Command{
		Use:   "track <volume> <output_curves>",
		Short: "Track streamlines through a model volume",
		Long: `Track streamlines through a volume of tensor, fibers, noddi, spharm, odf or
vector models. With --hybrid the tracking runs in two stages: a first pass
builds an orientation map that selects the fiber compartments of a second pass.
Curves are written as JSON lines, compressed after the output extension.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("hybrid") {
				cfg.Hybrid.Enabled = hybrid
			}
			if flags.Changed("prob") {
				cfg.Tracking.Prob = prob
			}
			if flags.Changed("strict") {
				cfg.Tracking.Strict = strict
			}
			if flags.Changed("step") {
				cfg.Tracking.Step = step
			}
			if flags.Changed("angle") {
				cfg.Tracking.Angle = angle
			}
			if flags.Changed("min") {
				cfg.Tracking.Min = minimum
			}
			if flags.Changed("seed-value") {
				cfg.Tracking.Seed = seed
			}
			if flags.Changed("threads") {
				cfg.Tracking.Threads = threads
			}
			if flags.Changed("samples-factor") {
				cfg.Tracking.SamplesFactor = samplesFactor
			}
			if flags.Changed("intermediary-dir") {
				cfg.Output.IntermediaryDir = intermediaryDir
			}
			if flags.Changed("snapshot-dir") {
				cfg.Output.SnapshotDir = snapshotDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			params, err := cfg.TractographyParams()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			banner(out, "STREAMLINE TRACTOGRAPHY")

			vol, err := codec.LoadVolume(args[0])
			if err != nil {
				return fmt.Errorf("loading volume: %w", err)
			}
			inputs := tractography.Inputs{Volume: vol}
			if err := regions.load(&inputs); err != nil {
				return err
			}
			if forcePath != "" {
				if inputs.Force, err = codec.LoadVolume(forcePath); err != nil {
					return fmt.Errorf("loading force volume: %w", err)
				}
			}
			if hybridPeaks != "" {
				if inputs.HybridPeaks, err = codec.LoadVolume(hybridPeaks); err != nil {
					return fmt.Errorf("loading hybrid peaks: %w", err)
				}
			}
			if hybridCurves != "" {
				if inputs.HybridCurves, err = codec.LoadCurves(hybridCurves); err != nil {
					return fmt.Errorf("loading hybrid curves: %w", err)
				}
			}

			t := tractography.New(params, inputs)
			t.Logger = root.log
			if dir := cfg.Output.IntermediaryDir; dir != "" && params.Hybrid.Enabled {
				compression, err := codec.ParseCompression(cfg.Output.Compression)
				if err != nil {
					return err
				}
				t.Sink = &tractography.FileSink{Dir: dir, Compression: compression}
			}

			fmt.Fprintf(out, "Tracking %s (model %s, %d voxels)...\n", args[0], vol.Model, vol.Sampling.Size())
			start := time.Now()
			curves, err := t.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("tracking failed: %w", err)
			}
			elapsed := time.Since(start)

			if err := codec.SaveCurves(args[1], curves); err != nil {
				return fmt.Errorf("saving curves: %w", err)
			}

			fmt.Fprintf(out, "\nTracking completed in %.2f seconds\n", elapsed.Seconds())
			fmt.Fprintf(out, "Curves: %d\n", curves.Len())
			fmt.Fprintf(out, "Output saved to: %s\n", args[1])
			if params.Hybrid.Enabled && t.Sink != nil {
				fmt.Fprintf(out, "\nIntermediate results saved to: %s\n", cfg.Output.IntermediaryDir)
				for _, stage := range []string{
					tractography.StagePreTracking,
					tractography.StageOrientation,
					tractography.StageProjection,
					tractography.StagePostTracking,
				} {
					fmt.Fprintf(out, "- %s\n", stage)
				}
			}

			if cfg.Output.SnapshotDir != "" {
				fmt.Fprintf(out, "\nDensity snapshots:\n")
				root.snapshot(out, cfg.Output.SnapshotDir, "density", func() (*visualization.Viewer, error) {
					return visualization.FromVolume(volumeops.Density(curves, vol.Sampling), 0)
				})
			}
			return nil
		},
	}

	regions.register(cmd)
	f := cmd.Flags()
	f.BoolVar(&hybrid, "hybrid", false, "run two-stage hybrid tracking")
	f.BoolVar(&prob, "prob", false, "sample directions probabilistically")
	f.BoolVar(&strict, "strict", false, "fail instead of seeding the whole volume when no seed source is given")
	f.Float64Var(&step, "step", 0, "step size in world units")
	f.Float64Var(&angle, "angle", 0, "maximum turning angle in degrees")
	f.Float64Var(&minimum, "min", 0, "minimum model attribute to keep tracking")
	f.Uint64Var(&seed, "seed-value", 0, "random seed")
	f.IntVar(&threads, "threads", 0, "number of tracking workers")
	f.Float64Var(&samplesFactor, "samples-factor", 0, "seed count multiplier")
	f.StringVar(&forcePath, "force", "", "guidance vector volume for probabilistic tracking")
	f.StringVar(&hybridPeaks, "hybrid-peaks", "", "fibers volume replacing the derived hybrid peaks")
	f.StringVar(&hybridCurves, "hybrid-curves", "", "curves replacing the hybrid pre-tracking stage")
	f.StringVar(&intermediaryDir, "intermediary-dir", "", "directory for intermediate hybrid results")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "directory for density slice images")
	return cmd
}
