package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lokus/internal/app"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
)

func newPluginsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plugins",
		Aliases: []string{"plugin"},
		Short:   "Manage Lokus plugins",
		Long:    `Discover, inspect, validate and run the plugins found in the plugin directories.`,
	}
	cmd.AddCommand(
		newPluginsListCmd(opts),
		newPluginsOrderCmd(opts),
		newPluginsInfoCmd(opts),
		newPluginsValidateCmd(opts),
		newPluginsEnableCmd(opts, true),
		newPluginsEnableCmd(opts, false),
		newPluginsRunCmd(opts),
	)
	return cmd
}

func newPluginsListCmd(opts *rootOptions) *cobra.Command {
	var load bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List discovered plugins",
		Long:    `Display every discovered plugin with its version, runtime and status.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, load, func(_ context.Context, rt *app.Runtime) error {
				return printPluginList(cmd.OutOrStdout(), rt.Manager.ListPlugins(), rt.Manager.GetStats())
			})
		},
	}
	cmd.Flags().BoolVar(&load, "load", false, "load and activate plugins before listing")
	return cmd
}

func printPluginList(out io.Writer, infos []*plugin.Info, stats plugin.Stats) error {
	if len(infos) == 0 {
		_, _ = fmt.Fprintln(out, "No plugins found.")
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, "Add plugin directories with --plugin-dir or plugin_dirs in lokus.yaml.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, tableHeader("id", "version", "runtime", "status", "description"))
	_, _ = fmt.Fprintln(w, "──\t───────\t───────\t──────\t───────────")
	for _, info := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.ID,
			info.Version,
			runtimeOf(info.Main),
			renderStatus(info.Status, info.Disabled),
			truncate(info.Description, 50),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d plugins: %d active, %d loaded, %d errored, %d disabled",
		stats.Total, stats.Active, stats.Loaded, stats.Errored, stats.Disabled)))
	return nil
}

// runtimeOf names the loader a main entry selects.
func runtimeOf(main string) string {
	switch {
	case strings.HasPrefix(main, manifest.BuiltinScheme):
		return "builtin"
	case strings.HasSuffix(main, ".lua"):
		return "lua"
	case strings.HasSuffix(main, ".wasm"):
		return "wasm"
	default:
		return "unknown"
	}
}

func newPluginsOrderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Show the dependency load order",
		Long:  `Resolve the dependency graph and print the order plugins are loaded in.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, false, func(_ context.Context, rt *app.Runtime) error {
				order, err := rt.Manager.LoadOrder()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i, id := range order {
					_, _ = fmt.Fprintf(out, "%3d  %s\n", i+1, id)
				}
				return nil
			})
		},
	}
}

func newPluginsInfoCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <id>",
		Short: "Show plugin details",
		Long:  `Display the manifest, status and dependency edges of one plugin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, false, func(_ context.Context, rt *app.Runtime) error {
				info, err := rt.Manager.GetPluginInfo(args[0])
				if err != nil {
					return err
				}
				printPluginInfo(cmd.OutOrStdout(), info)
				return nil
			})
		},
	}
}

func printPluginInfo(out io.Writer, info *plugin.Info) {
	_, _ = fmt.Fprintln(out, heading(info.Name))
	_, _ = fmt.Fprintf(out, "ID:          %s\n", info.ID)
	_, _ = fmt.Fprintf(out, "Version:     %s\n", info.Version)
	_, _ = fmt.Fprintf(out, "Status:      %s\n", renderStatus(info.Status, info.Disabled))
	_, _ = fmt.Fprintf(out, "Runtime:     %s\n", runtimeOf(info.Main))
	if info.Description != "" {
		_, _ = fmt.Fprintf(out, "Description: %s\n", info.Description)
	}
	if info.Author != "" {
		_, _ = fmt.Fprintf(out, "Author:      %s\n", info.Author)
	}
	if info.Path != "" {
		_, _ = fmt.Fprintf(out, "Path:        %s\n", info.Path)
	}
	if info.Error != "" {
		_, _ = fmt.Fprintf(out, "Error:       %s\n", errorStyle.Render(info.Error))
	}

	if len(info.Permissions) > 0 {
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, heading("permissions"))
		for _, p := range info.Permissions {
			_, _ = fmt.Fprintf(out, "  - %s\n", p)
		}
	}
	if len(info.Dependencies) > 0 {
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, heading("dependencies"))
		ids := make([]string, 0, len(info.Dependencies))
		for id := range info.Dependencies {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			_, _ = fmt.Fprintf(out, "  - %s %s\n", id, info.Dependencies[id])
		}
	}
	if len(info.Dependents) > 0 {
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, heading("required by"))
		for _, id := range info.Dependents {
			_, _ = fmt.Fprintf(out, "  - %s\n", id)
		}
	}
}

func newPluginsValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <dir>...",
		Short: "Validate plugin manifests",
		Long: `Check the manifest in each plugin directory without loading it.

Examples:
  lokus plugins validate ./my-plugin
  lokus plugins validate ~/.lokus/plugins/*`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, dir := range args {
				m, path, err := manifest.Load(dir)
				if err != nil {
					failed++
					_, _ = fmt.Fprintln(out, cross(fmt.Sprintf("%s: %v", dir, err)))
					continue
				}
				_, _ = fmt.Fprintln(out, check(fmt.Sprintf("%s@%s (%s)", m.ID, m.Version, path)))
				if !manifest.Satisfies(cfg.HostVersion, m.LokusVersion) {
					_, _ = fmt.Fprintln(out, "  "+warn(fmt.Sprintf("requires lokus %s, host is %s", m.LokusVersion, cfg.HostVersion)))
				}
				for _, w := range manifest.Warnings(m) {
					_, _ = fmt.Fprintln(out, "  "+warn(w))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d manifests are invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newPluginsEnableCmd(opts *rootOptions, enable bool) *cobra.Command {
	use, short, verb := "enable <id>", "Enable a plugin", "enabled"
	if !enable {
		use, short, verb = "disable <id>", "Disable a plugin", "disabled"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  `The choice is stored in the data directory and applies to every later run.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, false, func(ctx context.Context, rt *app.Runtime) error {
				var err error
				if enable {
					err = rt.Manager.EnablePlugin(ctx, args[0])
				} else {
					err = rt.Manager.DisablePlugin(ctx, args[0])
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), check(fmt.Sprintf("%s %s", args[0], verb)))
				return nil
			})
		},
	}
}

func newPluginsRunCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load all plugins and keep them running",
		Long: `Load and activate every enabled plugin, then wait for an interrupt.

With --watch, plugins are reloaded when their files change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.newRuntime(cmd)
			if err != nil {
				return err
			}
			if watch {
				rt.Config.Watch.Enabled = true
			}
			return runPlugins(cmd, rt)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload plugins when their files change")
	return cmd
}

func runPlugins(cmd *cobra.Command, rt *app.Runtime) (err error) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	report, err := rt.Start(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range report.Activated {
		_, _ = fmt.Fprintln(out, check(id+" active"))
	}
	for id, ferr := range report.Failed {
		_, _ = fmt.Fprintln(out, cross(fmt.Sprintf("%s: %v", id, ferr)))
	}
	_, _ = fmt.Fprintln(out, mutedStyle.Render("Running. Press Ctrl+C to stop."))

	<-ctx.Done()
	_, _ = fmt.Fprintln(out, "Shutting down...")
	return nil
}
