package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mritract/pkg/codec"
	"mritract/pkg/report"
)

func newStatsCmd(root *Root) *cobra.Command {
	var (
		bins int
		html string
	)

	cmd := &cobra.Command{
		Use:   "stats <curves>",
		Short: "Summarize the lengths of a curve file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			curves, err := codec.LoadCurves(args[0])
			if err != nil {
				return fmt.Errorf("loading curves: %w", err)
			}
			if err := curves.Validate(); err != nil {
				return err
			}
			s := report.Summarize(curves, bins)

			out := cmd.OutOrStdout()
			banner(out, "CURVE STATISTICS")
			fmt.Fprintf(out, "Curves: %d\n", s.Curves)
			fmt.Fprintf(out, "Vertices: %d\n", s.Vertices)
			fmt.Fprintf(out, "Length: min %.2f, max %.2f, mean %.2f, std %.2f\n",
				s.MinLength, s.MaxLength, s.MeanLength, s.StdLength)
			for _, b := range s.Bins {
				fmt.Fprintf(out, "[%8.2f, %8.2f) %d\n", b.Lo, b.Hi, b.Count)
			}

			if html == "" {
				return nil
			}
			f, err := os.Create(html)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := s.WriteHTML(f, args[0]); err != nil {
				return fmt.Errorf("rendering report: %w", err)
			}
			root.log.Info("report written", "path", html)
			fmt.Fprintf(out, "Report saved to: %s\n", html)
			return nil
		},
	}

	cmd.Flags().IntVar(&bins, "bins", 10, "histogram bins")
	cmd.Flags().StringVar(&html, "html", "", "write an HTML length histogram")
	return cmd
}
