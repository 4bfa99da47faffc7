package main

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/GoldenTiger720/secondkeeper/pkg/config"
	"github.com/GoldenTiger720/secondkeeper/pkg/logging"
	"github.com/GoldenTiger720/secondkeeper/pkg/version"
)

type rootOptions struct {
	verbose bool
}

// newRootCmd returns the root command for the camwatch CLI
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "camwatch",
		Short:         "Watch a SecondKeeper camera from the terminal",
		Long:          "camwatch mounts a single live camera viewer, prints its state and detections, and writes rendered frames to disk.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadEnv(nil)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newAlertsCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// logger writes JSON logs to the command's stderr.
func (o *rootOptions) logger(cmd *cobra.Command) logging.Logger {
	version.ComponentName = "camwatch"
	logger := logging.NewLoggerWithService("camwatch")
	logger.SetOutput(cmd.ErrOrStderr())
	if o.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// lockedWriter serialises writes from viewer callbacks and the status loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
