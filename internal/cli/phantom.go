package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"mritract/pkg/codec"
	"mritract/pkg/phantom"
)

func newPhantomCmd(root *Root) *cobra.Command {
	var (
		opts     = phantom.DefaultOptions()
		maskPath string
	)

	cmd := &cobra.Command{
		Use:       "phantom <crossing|bundle|isotropic|vect> <output_volume>",
		Short:     "Write a synthetic model volume",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"crossing", "bundle", "isotropic", "vect"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := phantom.Kind(args[0])
			if !slices.Contains(phantom.Kinds(), kind) {
				return fmt.Errorf("unknown phantom %q, expected one of %v", args[0], phantom.Kinds())
			}

			vol, err := phantom.New(kind, opts)
			if err != nil {
				return err
			}
			if err := codec.SaveVolume(args[1], vol); err != nil {
				return fmt.Errorf("saving phantom: %w", err)
			}
			root.log.Info("phantom written", "kind", kind, "model", vol.Model, "size", opts.Size, "path", args[1])

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Phantom %s (%s, %d^3 voxels) saved to: %s\n", kind, vol.Model, opts.Size, args[1])
			if maskPath != "" {
				if err := codec.SaveMask(maskPath, phantom.BandMask(vol, opts)); err != nil {
					return fmt.Errorf("saving band mask: %w", err)
				}
				fmt.Fprintf(out, "Band mask saved to: %s\n", maskPath)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.Size, "size", opts.Size, "voxels along each axis")
	f.IntVar(&opts.Width, "width", opts.Width, "bundle half-width in voxels")
	f.Float64Var(&opts.Delta, "delta", opts.Delta, "voxel spacing")
	f.Float64Var(&opts.Frac, "frac", opts.Frac, "stick fraction of the bundles")
	f.StringVar(&maskPath, "mask", "", "also write the bundle band mask")
	return cmd
}
