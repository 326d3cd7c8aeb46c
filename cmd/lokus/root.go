package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lokus/internal/app"
	"github.com/felixgeelhaar/lokus/internal/domain/config"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configFile string
	logLevel   string
	pluginDirs []string
	workspace  string
	dataDir    string
	verbose    bool
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "lokus",
		Short: "Plugin host for the Lokus editor",
		Long: `Lokus discovers, validates and runs editor plugins.

Plugins live in directories with a plugin.json, plugin.yaml or plugin.toml
manifest and are loaded in dependency order by the matching runtime:
bundled Go plugins, Lua scripts or WebAssembly modules.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: lokus.yaml or lokus.toml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringSliceVar(&opts.pluginDirs, "plugin-dir", nil, "plugin directory, repeatable (overrides config)")
	flags.StringVar(&opts.workspace, "workspace", "", "workspace root for file access")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for plugin settings and state")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	_ = cmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = cmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(
		newPluginsCmd(opts),
		newCommandsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd, opts
}

// Execute runs the root command.
func Execute() error {
	cmd, opts := newRootCmd()
	if err := cmd.Execute(); err != nil {
		printErrorTo(cmd.ErrOrStderr(), err, opts.verbose)
		return err
	}
	return nil
}

// loadConfig resolves the configuration file and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(o.configFile, config.DefaultSearchDirs()...)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.verbose && o.logLevel == "" {
		cfg.Log.Level = "debug"
	}
	if len(o.pluginDirs) > 0 {
		cfg.PluginDirs = o.pluginDirs
	}
	if o.workspace != "" {
		cfg.Workspace = o.workspace
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRuntime builds a runtime that logs to the command's stderr.
func (o *rootOptions) newRuntime(cmd *cobra.Command) (*app.Runtime, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.WithLogOutput(cmd.ErrOrStderr()))
}

// withRuntime discovers plugins, runs fn and shuts the runtime down.
func (o *rootOptions) withRuntime(cmd *cobra.Command, load bool, fn func(context.Context, *app.Runtime) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := o.newRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if load {
		report, err := rt.Start(ctx)
		if err != nil {
			return err
		}
		for id, ferr := range report.Failed {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), warn(fmt.Sprintf("%s: %v", id, ferr)))
		}
	} else if _, err := rt.Discover(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}

// formatError returns a user-friendly error message. Technical details of
// configuration errors are only shown when verbose.
func formatError(err error, verbose bool) string {
	var list *config.ErrorList
	if errors.As(err, &list) {
		return list.Format()
	}
	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}
	return err.Error()
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error, verbose bool) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err, verbose))
}
