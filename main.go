// Command mongostate detects the state of a MongoDB deployment: whether it
// runs, how it is secured and how it is replicated.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/peternagy/mongostate/internal/config"
	"github.com/peternagy/mongostate/internal/core"
	"github.com/peternagy/mongostate/internal/debug"
	"github.com/peternagy/mongostate/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// cli holds the persistent flags and the App factory.
type cli struct {
	output    string
	logLevel  string
	logFormat string
	env       Options
	envErr    error
	newApp    func(log *debug.Logger) *App
}

func main() {
	// Ignore missing .env
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := newCLI(NewApp)
	if err := c.rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newCLI(factory func(*debug.Logger) *App) *cli {
	env, err := config.FromEnv(config.Default())
	return &cli{env: env, envErr: err, newApp: factory}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mongostate",
		Short:         "Detect the state of a MongoDB deployment",
		Long:          "mongostate checks whether MongoDB is running and reports its service state, auth and TLS settings and replica set topology.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.output, "output", "o", outputText, "output format: json|text")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", c.env.LogLevel, "log level: debug|info|warn|error (env "+config.EnvLogLevel+")")
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", debug.FormatText, "log format: text|json")

	root.AddCommand(c.detectCmd())
	root.AddCommand(c.lastCmd())
	root.AddCommand(c.keyringCmd())
	root.AddCommand(c.versionCmd())
	return root
}

func (c *cli) app(cmd *cobra.Command) *App {
	return c.newApp(debug.New(cmd.ErrOrStderr(), c.logLevel, c.logFormat))
}

func (c *cli) detectCmd() *cobra.Command {
	opts := c.env
	var (
		save           bool
		keyringAccount string
		metricsFile    string
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run a detection and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.envErr != nil {
				return c.envErr
			}
			app := c.app(cmd)

			if err := app.ResolvePassword(&opts, keyringAccount); err != nil {
				return err
			}

			result, err := app.Detect(cmd.Context(), opts)

			var invalid *core.InvalidOptionError
			if errors.As(err, &invalid) {
				return err
			}
			if rerr := renderReport(cmd.OutOrStdout(), c.output, result.Report()); rerr != nil {
				return rerr
			}

			if save {
				if serr := app.SaveReport(result, opts); serr != nil {
					return serr
				}
			}
			if metricsFile != "" {
				if merr := app.WriteMetrics(metricsFile); merr != nil {
					return merr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Host, "host", opts.Host, "host to check (env "+config.EnvHost+")")
	f.IntVar(&opts.Port, "port", opts.Port, "port to check (env "+config.EnvPort+")")
	f.StringVar(&opts.AdminUser, "admin-user", opts.AdminUser, "admin user (env "+config.EnvAdminUser+")")
	f.StringVar(&opts.AdminPassword, "admin-password", opts.AdminPassword, "admin password (env "+config.EnvAdminPassword+")")
	f.StringVar(&opts.LoginDatabase, "login-database", opts.LoginDatabase, "authentication database (env "+config.EnvLoginDatabase+")")
	f.IntVar(&opts.ConnectTimeoutMS, "connect-timeout-ms", opts.ConnectTimeoutMS, "connect, server selection and socket timeout in milliseconds")
	f.BoolVar(&opts.UseTLS, "tls", opts.UseTLS, "try TLS first")
	f.StringVar(&opts.TLSCertRequirement, "tls-cert-requirement", opts.TLSCertRequirement, "none|optional|required")
	f.StringSliceVar(&opts.Hosts, "hosts", opts.Hosts, "replica set hosts to scan for the primary (host[:port], comma separated)")
	f.StringVar(&opts.ServiceName, "service-name", opts.ServiceName, "systemd unit name (env "+config.EnvServiceName+")")
	f.BoolVar(&opts.CheckService, "check-service", opts.CheckService, "query systemd for the service state")
	f.BoolVar(&opts.FailIfNotRunning, "fail-if-not-running", opts.FailIfNotRunning, "treat not running and missing credentials as errors")
	f.BoolVar(&opts.CheckLocal, "check-local", opts.CheckLocal, "also probe localhost and 127.0.0.1")
	f.StringSliceVar(&opts.ConfigPaths, "config-path", opts.ConfigPaths, "mongod config files to read, first match wins")
	f.BoolVar(&save, "save", false, "save the report as the last report")
	f.StringVar(&keyringAccount, "keyring-account", "", "read the admin password from this keyring account")
	f.StringVar(&metricsFile, "metrics-file", "", "write run metrics to this file in Prometheus textfile format")
	return cmd
}

func (c *cli) lastCmd() *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Print the last saved report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := c.app(cmd)
			if history {
				saved, err := app.History()
				if err != nil {
					return err
				}
				for _, s := range saved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s:%d  running=%t\n",
						s.SavedAt.Format("2006-01-02T15:04:05Z07:00"), s.RunID, s.Host, s.Port, s.Report.Running)
				}
				return nil
			}

			saved, err := app.LastReport()
			if errors.Is(err, storage.ErrNoReport) {
				return errors.New("no saved report, run 'mongostate detect --save' first")
			}
			if err != nil {
				return err
			}
			if c.output != outputJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s for %s:%d\n\n", saved.SavedAt.Format("2006-01-02 15:04:05 MST"), saved.Host, saved.Port)
			}
			return renderReport(cmd.OutOrStdout(), c.output, saved.Report)
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "list all saved runs")
	return cmd
}

func (c *cli) keyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage admin passwords in the OS keyring",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <account>",
		Short: "Store an admin password read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}
			if err := c.app(cmd).StorePassword(args[0], password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <account>",
		Short: "Remove a stored admin password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app(cmd).DeletePassword(args[0])
		},
	})
	return cmd
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mongostate %s\n", version)
			return nil
		},
	}
}
