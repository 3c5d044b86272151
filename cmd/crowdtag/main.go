// Command crowdtag replays annotated pedestrian trajectories, tags every
// agent with its surroundings on each frame and rewrites the annotations
// with start and end frame tags and anchor images.
//
// Log verbosity follows LOG_LEVEL (debug, info, warn, error) and LOG_FORMAT
// (json or text).
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

type flags struct {
	config string
	input  string
	scene  string
	resume bool
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "crowdtag",
		Short:        "Tag replayed crowd trajectories with their spatial context",
		SilenceUsage: true,
	}
	var f flags
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "", "path to a TOML config file")
	root.PersistentFlags().StringVarP(&f.input, "input", "i", "", "annotation folder (overrides input_dir)")
	root.PersistentFlags().StringVar(&f.scene, "scene", "", "scene JSON file (overrides scene_path)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Replay the input folder and write tagged outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, cmd.Flags().Changed("resume"))
			if err != nil {
				return err
			}
			_, err = runTagging(cmd.Context(), cfg, cmd.OutOrStdout())
			return err
		},
	}
	run.Flags().BoolVar(&f.resume, "resume", false, "restore progress from the configured checkpoint")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print anchor progress of the input folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f, false)
			if err != nil {
				return err
			}
			return inspectProgress(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	root.AddCommand(run, inspect)
	return root
}
