package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mritract/internal/models"
	"mritract/pkg/codec"
	"mritract/pkg/parcellation"
	"mritract/pkg/visualization"
)

func newParcellateCmd(root *Root) *cobra.Command {
	var (
		segments    int
		density     int
		rep         string
		coarse      float64
		target      string
		track       string
		include     string
		exclude     string
		curvesOut   string
		snapshotDir string
	)

	cmd := &cobra.Command{
		Use:   "parcellate <volume> <mask> <output_mask>",
		Short: "Split a mask into parcels of similar connectivity",
		Long: `Seed streamlines from every voxel of the mask, describe each voxel by the
bundle it sprouts (path, dist or scpt) and cluster the voxels into parcels.
The output mask labels parcels from one.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			flags := cmd.Flags()
			if flags.Changed("segments") {
				cfg.Parcellation.Segments = segments
			}
			if flags.Changed("density") {
				cfg.Parcellation.Density = density
			}
			if flags.Changed("rep") {
				cfg.Parcellation.Rep = rep
			}
			if flags.Changed("coarse") {
				cfg.Parcellation.Coarse = coarse
			}
			if flags.Changed("snapshot-dir") {
				cfg.Output.SnapshotDir = snapshotDir
			}
			params, err := cfg.ParcellationParams()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			banner(out, "CONNECTIVITY BASED PARCELLATION")

			vol, err := codec.LoadVolume(args[0])
			if err != nil {
				return fmt.Errorf("loading volume: %w", err)
			}
			in := parcellation.Inputs{Volume: vol}
			if in.Mask, err = loadMask(args[1]); err != nil {
				return err
			}
			if err := loadMasks(map[**models.Mask]string{
				&in.Target:  target,
				&in.Track:   track,
				&in.Include: include,
				&in.Exclude: exclude,
			}); err != nil {
				return err
			}

			p := &parcellation.Parcellator{Params: params, Inputs: in, Logger: root.log}
			fmt.Fprintf(out, "Parcellating %d voxels into %d parcels (%s)...\n", in.Mask.Count(), params.Segments, params.Rep)
			start := time.Now()
			res, err := p.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("parcellation failed: %w", err)
			}
			elapsed := time.Since(start)

			if err := codec.SaveMask(args[2], res.Mask); err != nil {
				return fmt.Errorf("saving parcels: %w", err)
			}
			if curvesOut != "" {
				if err := codec.SaveCurves(curvesOut, res.Curves); err != nil {
					return fmt.Errorf("saving sprouts: %w", err)
				}
			}

			fmt.Fprintf(out, "\nParcellation completed in %.2f seconds\n", elapsed.Seconds())
			fmt.Fprintf(out, "Parcels:\n")
			for _, label := range res.Mask.Nonzero() {
				fmt.Fprintf(out, "- %d: %d voxels\n", label, res.Mask.Equal(label).Count())
			}
			fmt.Fprintf(out, "Sprouts: %d\n", res.Curves.Len())
			fmt.Fprintf(out, "Output saved to: %s\n", args[2])

			if cfg.Output.SnapshotDir != "" {
				fmt.Fprintf(out, "\nParcel snapshots:\n")
				root.snapshot(out, cfg.Output.SnapshotDir, "parcels", func() (*visualization.Viewer, error) {
					return visualization.FromMask(res.Mask)
				})
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&segments, "segments", 0, "number of parcels")
	f.IntVar(&density, "density", 0, "seeds per mask voxel")
	f.StringVar(&rep, "rep", "", "voxel representation: path, dist or scpt")
	f.Float64Var(&coarse, "coarse", 0, "grid spacing of the path and dist images")
	f.StringVar(&target, "target", "", "stop sprouts entering this mask")
	f.StringVar(&track, "track", "", "restrict sprouts to this mask")
	f.StringVar(&include, "include", "", "drop sprouts missing this mask")
	f.StringVar(&exclude, "exclude", "", "discard sprouts entering this mask")
	f.StringVar(&curvesOut, "curves", "", "write the kept sprouts to this file")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "directory for parcel slice images")
	return cmd
}
