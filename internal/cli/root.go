package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wabot/wabot/internal/config"
	"github.com/wabot/wabot/internal/janitor"
	"github.com/wabot/wabot/pkg/consts"
)

var (
	cfgFile string
	envFile string

	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:           "wabot",
	Short:         "wabot: WhatsApp automation bot",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to WhatsApp Web, answer messages and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if code := serve(cmd.Context(), cfg); code != consts.ExitOK {
			return &exitError{code: code}
		}
		return nil
	},
}

var cleanLocksCmd = &cobra.Command{
	Use:   "clean-locks",
	Short: "Remove stale browser lock files from the auth and cache directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var dirs []string
		for _, d := range []string{cfg.Session.AuthDir, cfg.Session.CacheDir} {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
		printReports(cmd.OutOrStdout(), dirs, janitor.CleanAll(dirs...))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wabot %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (.yaml or .toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cleanLocksCmd)
	rootCmd.AddCommand(versionCmd)
}

// SetVersion records build metadata injected through ldflags.
func SetVersion(v, c, d string) {
	version, commit, date = v, c, d
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile, envFile)
	if err != nil {
		return nil, &exitError{code: consts.ExitUsage, err: err}
	}
	return cfg, nil
}

func printReports(w io.Writer, dirs []string, reports []janitor.Report) {
	for i, rep := range reports {
		dir := ""
		if i < len(dirs) {
			dir = dirs[i]
		}
		switch {
		case rep.Created:
			fmt.Fprintf(w, "%s: created\n", dir)
		case len(rep.Removed) == 0 && len(rep.Failed) == 0:
			fmt.Fprintf(w, "%s: clean\n", dir)
		default:
			for _, p := range rep.Removed {
				fmt.Fprintf(w, "%s: removed %s\n", dir, p)
			}
			for _, p := range rep.Failed {
				fmt.Fprintf(w, "%s: failed %s\n", dir, p)
			}
		}
	}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if err == nil {
		return consts.ExitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "Error:", ee.err)
		}
		return ee.code
	}
	// cobra reports unknown commands and bad flags as plain errors
	fmt.Fprintln(stderr, "Error:", err)
	return consts.ExitUsage
}

// Personal.AI order the ending
