// Package cli wires the mritract commands to the tracking packages
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"mritract/internal/logging"
	"mritract/internal/models"
	"mritract/pkg/codec"
	"mritract/pkg/config"
	"mritract/pkg/visualization"
)

// Root holds the state shared by every command
type Root struct {
	cfg *config.Config
	log *slog.Logger

	configPath string
	logLevel   string
	logFormat  string
	quiet      bool
}

// NewRootCmd creates the root Cobra command
func NewRootCmd() *cobra.Command {
	root := &Root{}

	rootCmd := &cobra.Command{
		Use:   "mritract",
		Short: "mritract tracks streamlines through diffusion model volumes",
		Long: `mritract reconstructs white matter streamlines from voxel-wise diffusion
models, with kernel re-estimation, hybrid two-stage tracking and connectivity
based parcellation.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&root.configPath, "config", "", "YAML configuration file (defaults when missing)")
	flags.StringVar(&root.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&root.logFormat, "log-format", "", "log format: text or json")
	flags.BoolVarP(&root.quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(newTrackCmd(root))
	rootCmd.AddCommand(newParcellateCmd(root))
	rootCmd.AddCommand(newPhantomCmd(root))
	rootCmd.AddCommand(newStatsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))

	return rootCmd
}

func (r *Root) setup(cmd *cobra.Command) error {
	cfg := config.DefaultConfig()
	if r.configPath != "" {
		loaded, err := config.LoadConfig(r.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Output.LogLevel = r.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Output.LogFormat = r.logFormat
	}
	if flags.Changed("quiet") {
		cfg.Output.Quiet = r.quiet
	}

	level, err := logging.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		return err
	}
	if cfg.Output.Quiet {
		level = max(level, slog.LevelWarn)
	}
	log, err := logging.New(cmd.ErrOrStderr(), level, logging.Format(cfg.Output.LogFormat))
	if err != nil {
		return err
	}

	r.cfg = cfg
	r.log = log
	return nil
}

func banner(w io.Writer, title string) {
	line := strings.Repeat("=", 32)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, line)
}

func loadMask(path string) (*models.Mask, error) {
	if path == "" {
		return nil, nil
	}
	mask, err := codec.LoadMask(path)
	if err != nil {
		return nil, fmt.Errorf("loading mask %s: %w", path, err)
	}
	return mask, nil
}

// loadMasks fills every destination whose path is set
func loadMasks(paths map[**models.Mask]string) error {
	for dst, path := range paths {
		mask, err := loadMask(path)
		if err != nil {
			return err
		}
		if mask != nil {
			*dst = mask
		}
	}
	return nil
}

// snapshot writes central slice images of a viewer when a directory is set.
// Failures are logged and never fail the command.
func (r *Root) snapshot(w io.Writer, dir, name string, view func() (*visualization.Viewer, error)) {
	if dir == "" {
		return
	}
	v, err := view()
	if err != nil {
		r.log.Warn("could not build snapshot", "name", name, "error", err)
		return
	}
	paths, err := v.SaveSnapshots(dir, name)
	if err != nil {
		r.log.Warn("could not save snapshot", "name", name, "error", err)
		return
	}
	for _, p := range paths {
		fmt.Fprintf(w, "- %s\n", p)
	}
}
