package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"LocalAnimator/internal/export"
)

func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var out string
	var opts export.Options
	var withLink bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active scene as a PDF storyboard",
		Long: `Fetch the relay's state and lay out every captured frame of the active
scene on A4 pages.

Example:
  localanimator export -o board.pdf --columns 4 --rows 3 --link`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			c, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			snap, err := c.RequestState(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "fetch relay state", err)
			}
			if withLink {
				opts.Link = rootOpts.Config.Client.URL
			}
			if err := export.StoryboardFile(out, snap, opts); err != nil {
				return WrapExitError(ExitFailure, "export storyboard", err)
			}
			rootOpts.Log.Info("storyboard written", "path", out, "frames", len(export.Frames(*snap.ActiveScene)))
			fmt.Fprintf(cmd.OutOrStdout(), "Storyboard written to %s\n", out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "storyboard.pdf", "output PDF path")
	cmd.Flags().IntVar(&opts.Columns, "columns", 3, "panels per row")
	cmd.Flags().IntVar(&opts.Rows, "rows", 2, "rows per page")
	cmd.Flags().StringVar(&opts.Title, "title", "", "page title (default project / scene)")
	cmd.Flags().BoolVar(&withLink, "link", false, "print a QR code of the relay URL on each page")

	return cmd
}
