package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/lokus/internal/app"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
)

func newCommandsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "commands",
		Aliases: []string{"command", "cmd"},
		Short:   "List and run plugin commands",
	}
	cmd.AddCommand(newCommandsListCmd(opts), newCommandsExecCmd(opts))
	return cmd
}

func newCommandsListCmd(opts *rootOptions) *cobra.Command {
	var (
		query string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered commands",
		Long:  `Load every plugin and list the commands they register.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd, true, func(_ context.Context, rt *app.Runtime) error {
				var cmds []command.Command
				switch {
				case query != "":
					cmds = rt.Commands.Search(query)
				case all:
					cmds = rt.Commands.List()
				default:
					cmds = rt.Commands.PaletteCommands()
				}
				return printCommandList(cmd.OutOrStdout(), cmds)
			})
		},
	}
	cmd.Flags().StringVarP(&query, "search", "s", "", "filter commands by title, id or category")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include commands hidden from the palette")
	return cmd
}

func printCommandList(out io.Writer, cmds []command.Command) error {
	if len(cmds) == 0 {
		_, _ = fmt.Fprintln(out, "No commands registered.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, tableHeader("id", "title", "category", "plugin"))
	_, _ = fmt.Fprintln(w, "──\t─────\t────────\t──────")
	for _, c := range cmds {
		category := c.Category
		if category == "" {
			category = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Title, category, c.PluginID)
	}
	return w.Flush()
}

func newCommandsExecCmd(opts *rootOptions) *cobra.Command {
	var (
		file string
		save bool
	)
	cmd := &cobra.Command{
		Use:   "exec <id> [args...]",
		Short: "Run a command",
		Long: `Load every plugin and run one command. Arguments are passed as strings.

Examples:
  lokus commands exec wordcount.count --file notes.md
  lokus commands exec greeter.hello world`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, true, func(ctx context.Context, rt *app.Runtime) error {
				if file != "" {
					if err := rt.Bridge.OpenDocument(ctx, file); err != nil {
						return err
					}
				}
				cmdArgs := make([]any, len(args)-1)
				for i, a := range args[1:] {
					cmdArgs[i] = a
				}
				result, err := rt.Commands.Execute(ctx, args[0], cmdArgs...)
				if err != nil {
					return err
				}
				if save && file != "" {
					if err := rt.Bridge.SaveDocument(ctx); err != nil {
						return err
					}
				}
				return printResult(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "open a workspace file in the editor first")
	cmd.Flags().BoolVar(&save, "save", false, "write the document back after the command runs")
	return cmd
}

// printResult writes strings verbatim and everything else as JSON.
func printResult(out io.Writer, result any) error {
	switch v := result.(type) {
	case nil:
		return nil
	case string:
		_, err := fmt.Fprintln(out, v)
		return err
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
}
