package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vtcode/vtcode/internal/application"
)

var opts application.Options

func main() {
	root := &cobra.Command{
		Use:   "vtcode",
		Short: "VT Code - an interactive coding agent for the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.InitPrompt = args[0]
			}
			return runSession(cmd.Context())
		},
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.Workspace, "workspace", "C", "", "workspace root (default: current directory)")
	root.PersistentFlags().StringVarP(&opts.Model, "model", "m", "", "model identifier override")
	root.PersistentFlags().BoolVar(&opts.PlanMode, "plan", false, "start in plan mode (read-only tool set)")

	session := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}
	resume := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume a previous session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ResumeSessionID = args[0]
			return runSession(cmd.Context())
		},
	}
	session.AddCommand(resume)
	root.AddCommand(session)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vtcode:", err)
		os.Exit(1)
	}
}

func runSession(ctx context.Context) error {
	app, err := application.New(opts)
	if err != nil {
		return err
	}
	code := app.RunInteractive(ctx, opts)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
