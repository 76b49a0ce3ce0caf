package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/browserun/internal/config"
	"github.com/loykin/browserun/internal/launcher"
	"github.com/loykin/browserun/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func buildRoot() *cobra.Command {
	return newRoot(config.New())
}

// newRoot builds the command tree with flags bound to v.
func newRoot(v *viper.Viper) *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}

	root := createRootCommand(globalFlags, v)
	root.AddCommand(
		createRunCommand(globalFlags, runFlags, v),
		createBrowsersCommand(),
		createStatusCommand(&StatusFlags{}),
	)
	return root
}

func createRootCommand(flags *GlobalFlags, v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "browserun",
		Short: "Run in-browser test suites across real browsers",
		Long: `Browserun launches browsers against a proxied copy of your app, injects a
test framework adapter into its pages and reports results as the browsers
run the tests.

Examples:
  browserun run --browser=firefox-headless --target=http://localhost:3000 --once
  browserun run --config=browserun.toml
  browserun browsers`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (toml, yaml or json)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	mustBind(v, "log.level", root.PersistentFlags().Lookup("log-level"))
	return root
}

func createRunCommand(globalFlags *GlobalFlags, flags *RunFlags, v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the browsers and run the tests",
		Long: `Start the proxy and client servers, launch every configured browser and
signal the adapters to run once all of them connected. Without --once the
run keeps serving so reloaded pages run the tests again.

Examples:
  browserun run --browser=chrome-headless --browser=firefox-headless --once
  browserun run --adapter=jasmine --reporter=log --history=sqlite:///tmp/runs.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fc, err := config.Load(v, globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			code, err := runTests(cmd.Context(), fc, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if code != 0 {
				return &ExitCodeError{Code: code}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&flags.Browsers, "browser", nil, "browser to launch (repeatable)")
	f.StringSliceVar(&flags.Reporters, "reporter", nil, "reporter: dot or log (repeatable)")
	f.StringVar(&flags.Adapter, "adapter", "", "test framework adapter name")
	f.StringVar(&flags.Target, "target", "", "URL of the app under test")
	f.IntVar(&flags.ClientPort, "port", 0, "client server port (0 picks a free one)")
	f.IntVar(&flags.ProxyPort, "proxy-port", 0, "proxy server port (0 picks a free one)")
	f.BoolVar(&flags.Once, "once", false, "stop when every browser finished")
	f.DurationVar(&flags.ReadyTimeout, "ready-timeout", 0, "how long launched browsers get to connect")
	f.StringVar(&flags.HistoryDSN, "history", "", "record results to this DSN")
	f.BoolVar(&flags.Metrics, "metrics", false, "serve /metrics on the client server")

	for key, name := range map[string]string{
		"browsers":       "browser",
		"reporters":      "reporter",
		"adapter.name":   "adapter",
		"proxy.target":   "target",
		"client.port":    "port",
		"proxy.port":     "proxy-port",
		"once":           "once",
		"ready_timeout":  "ready-timeout",
		"history.dsn":    "history",
		"client.metrics": "metrics",
	} {
		mustBind(v, key, f.Lookup(name))
	}
	return cmd
}

func createBrowsersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "browsers",
		Short: "List the built-in browsers and where they were found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printBrowsers(cmd.OutOrStdout())
		},
	}
}

func printBrowsers(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tCOMMAND")
	for _, name := range launcher.Builtins() {
		path, ok := launcher.Locate(name)
		if !ok {
			path = "(not found)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", name, path)
	}
	return tw.Flush()
}

func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the state of a running browserun",
		Long: `Query the JSON API of a running browserun and print its run state.

Examples:
  browserun status --url=http://localhost:9876/api
  browserun status --url=http://localhost:9876/api --wait --timeout=5m`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printStatus(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.URL, "url", client.DefaultConfig().BaseURL, "API base URL of the run")
	cmd.Flags().BoolVar(&flags.Wait, "wait", false, "wait until the run finished")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", time.Minute, "how long --wait waits")
	cmd.Flags().DurationVar(&flags.Interval, "interval", 500*time.Millisecond, "poll interval for --wait")
	return cmd
}

func printStatus(ctx context.Context, w io.Writer, f StatusFlags) error {
	c := client.New(client.Config{BaseURL: f.URL})
	var (
		s   client.RunState
		err error
	)
	if f.Wait {
		wctx, cancel := context.WithTimeout(ctx, f.Timeout)
		defer cancel()
		s, err = c.WaitFinished(wctx, f.Interval)
	} else {
		s, err = c.State(ctx)
	}
	if err != nil {
		return err
	}
	b, _ := json.MarshalIndent(s, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
	if f.Wait && s.Status != 0 {
		return &ExitCodeError{Code: s.Status}
	}
	return nil
}
