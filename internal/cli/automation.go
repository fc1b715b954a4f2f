package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"LocalAnimator/internal/automation"
	"LocalAnimator/internal/state"
)

// withFacade connects to the relay, runs fn and prints its result.
func withFacade(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *automation.Facade) automation.Result) error {
	ctx := commandContext(cmd)
	c, err := opts.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return printResult(cmd.OutOrStdout(), fn(ctx, automation.New(c, opts.Log)))
}

func NewShapeCommand(rootOpts *RootOptions) *cobra.Command {
	var req automation.ShapeRequest
	var shape string

	cmd := &cobra.Command{
		Use:   "shape",
		Short: "Place a shape and capture the current frame",
		Long: `Place a rectangle, circle, ellipse, line or star on a layer and capture the
frame at the relay's cursor.

Example:
  localanimator shape --type circle --x 200 --y 150 --radius 40 --fill "#ff0000"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Shape = state.ShapeKind(shape)
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				return f.CreateShape(ctx, req)
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&shape, "type", string(state.KindRectangle), "rectangle|circle|ellipse|line|star")
	fl.StringVar(&req.SceneID, "scene", "", "scene id (default active scene)")
	fl.StringVar(&req.LayerID, "layer", "", "layer id (default active layer)")
	fl.Float64Var(&req.X, "x", 0, "x position")
	fl.Float64Var(&req.Y, "y", 0, "y position")
	fl.Float64Var(&req.Width, "width", 0, "width (default 100 or 2*radius)")
	fl.Float64Var(&req.Height, "height", 0, "height (default 100 or 2*radius)")
	fl.Float64Var(&req.Radius, "radius", 0, "radius")
	fl.StringVar(&req.Fill, "fill", "", "fill colour (default #000000)")
	fl.StringVar(&req.Stroke, "stroke", "", "stroke colour (default #000000)")
	fl.Float64Var(&req.StrokeWidth, "stroke-width", 0, "stroke width (default 1)")
	fl.IntVar(&req.NumPoints, "points", 0, "star points (default 5)")

	return cmd
}

func NewTextCommand(rootOpts *RootOptions) *cobra.Command {
	var req automation.TextRequest

	cmd := &cobra.Command{
		Use:   "text <content>",
		Short: "Place a text element and capture the current frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Text = args[0]
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				return f.CreateText(ctx, req)
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&req.SceneID, "scene", "", "scene id (default active scene)")
	fl.StringVar(&req.LayerID, "layer", "", "layer id (default active layer)")
	fl.Float64Var(&req.X, "x", 0, "x position")
	fl.Float64Var(&req.Y, "y", 0, "y position")
	fl.Float64Var(&req.FontSize, "font-size", 0, "font size (default 24)")
	fl.StringVar(&req.FontFamily, "font", "", "font family (default Arial)")
	fl.StringVar(&req.Fill, "fill", "", "text colour (default #000000)")

	return cmd
}

func NewAnimateCommand(rootOpts *RootOptions) *cobra.Command {
	var file, sceneID string
	var frames int

	cmd := &cobra.Command{
		Use:   "animate --file <request.json>",
		Short: "Capture an interpolated animation sequence",
		Long: `Read an animation request (JSON, "-" for stdin) and capture one frame per
step, moving each element linearly from its start to its end position.

Example request:
  {"frameCount": 12, "elements": [{"type": "shape",
    "properties": {"shapeType": "circle", "radius": 30, "fill": "#3366ff"},
    "startPosition": {"x": 100, "y": 300}, "endPosition": {"x": 900, "y": 300}}]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := readAnimation(cmd.InOrStdin(), file)
			if err != nil {
				return WrapExitError(ExitCommandError, "read animation request", err)
			}
			if cmd.Flags().Changed("scene") {
				req.SceneID = sceneID
			}
			if cmd.Flags().Changed("frames") {
				req.FrameCount = frames
			}
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				return f.CreateAnimation(ctx, req)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "animation request file (required)")
	cmd.Flags().StringVar(&sceneID, "scene", "", "scene id, overrides the request")
	cmd.Flags().IntVar(&frames, "frames", 0, "frame count, overrides the request")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readAnimation(stdin io.Reader, path string) (automation.AnimationRequest, error) {
	var req automation.AnimationRequest
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

func NewLayerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layer",
		Short: "Create or activate layers",
	}

	var sceneID, typ string
	var activate bool
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Add a layer to a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lt := state.LayerType(typ)
			if !lt.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid layer type %q", typ))
			}
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				res := f.CreateLayer(ctx, sceneID, args[0], lt)
				if !res.Success || !activate {
					return res
				}
				return f.ActivateLayer(ctx, sceneID, res.Data.(*state.Layer).ID)
			})
		},
	}
	create.Flags().StringVar(&sceneID, "scene", "", "scene id (default active scene)")
	create.Flags().StringVar(&typ, "type", string(state.LayerMidground), "background|midground|foreground")
	create.Flags().BoolVar(&activate, "activate", false, "make the new layer active")

	var activateScene string
	activateCmd := &cobra.Command{
		Use:   "activate <layer-id>",
		Short: "Make a layer the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				return f.ActivateLayer(ctx, activateScene, args[0])
			})
		},
	}
	activateCmd.Flags().StringVar(&activateScene, "scene", "", "scene id (default active scene)")

	cmd.AddCommand(create, activateCmd)
	return cmd
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var what string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the relay's current project, scene or layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFacade(cmd, rootOpts, func(ctx context.Context, f *automation.Facade) automation.Result {
				switch what {
				case "project":
					return f.CurrentProject()
				case "scene":
					return f.CurrentScene()
				case "layer":
					return f.CurrentLayer()
				}
				return automation.Result{Message: fmt.Sprintf("unknown status %q: want project, scene or layer", what)}
			})
		},
	}
	cmd.Flags().StringVar(&what, "show", "project", "project|scene|layer")

	return cmd
}
