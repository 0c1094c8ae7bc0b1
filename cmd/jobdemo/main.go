package main

import (
	"context"
	"fmt"
	"os"

	daemon "github.com/sevlyar/go-daemon"
	"github.com/spf13/cobra"

	"jobdemo/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           "jobdemo",
		Short:         "Fire-and-forget and recurring job scheduler demo",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newMigrateCmd())
	return root
}

type serveFlags struct {
	daemon  bool
	pidFile string
	logFile string
	workDir string
}

func newServeCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.daemon {
				cntxt := &daemon.Context{
					PidFileName: f.pidFile,
					PidFilePerm: 0o644,
					LogFileName: f.logFile,
					LogFilePerm: 0o640,
					WorkDir:     f.workDir,
					Umask:       0o027,
				}
				child, err := cntxt.Reborn()
				if err != nil {
					return fmt.Errorf("daemonize: %w", err)
				}
				if child != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "started in background, pid %d\n", child.Pid)
					return nil
				}
				defer func() { _ = cntxt.Release() }()
			}

			a, err := app.New()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.Run(context.Background())
		},
	}
	cmd.Flags().BoolVar(&f.daemon, "daemon", false, "run in background")
	cmd.Flags().StringVar(&f.pidFile, "pid-file", "jobdemo.pid", "pid file used with --daemon")
	cmd.Flags().StringVar(&f.logFile, "daemon-log", "jobdemo.out", "stdout/stderr of the daemon")
	cmd.Flags().StringVar(&f.workDir, "workdir", ".", "working directory of the daemon")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations for the configured storage driver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New()
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.Migrate(cmd.Context())
		},
	}
}
