package cliapp

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	gerrors "resgraph/internal/core/errors"
	"resgraph/internal/engine/export"
	"resgraph/internal/shared/util"
	"resgraph/pkg/graphstore"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	return t
}

func newStatsCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store counts and tuning",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				st, err := s.engine.Stats(cmd.Context())
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"Key", "Value"})
				t.AppendRows([]table.Row{
					{"path", st.Path},
					{"persistent", st.Persistent},
					{"schema_version", st.SchemaVersion},
					{"nodes", st.Nodes},
					{"edges", st.Edges},
					{"metadata_keys", st.MetadataKeys},
					{"batch_threshold", st.Tuning.BatchThreshold},
					{"write_lock_timeout", st.Tuning.WriteLockTimeout},
				})
				t.Render()
				return nil
			})
		},
	}
}

func newSearchCommand(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over node ids, types and names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				results, err := s.engine.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"ID", "Type", "Name", "Score"})
				for _, r := range results {
					score := fmt.Sprintf("%.3f", r.Score)
					if r.Fallback {
						score = "substring"
					}
					t.AppendRow(table.Row{r.Node.ID, r.Node.Type, r.Node.Name, score})
				}
				t.AppendFooter(table.Row{"", "", "results", len(results)})
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	return cmd
}

func newPathCommand(opts *cliOptions) *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "path <source> <target>",
		Short: "Find the fewest-hop directed path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				path, err := s.engine.FindPath(cmd.Context(), args[0], args[1], maxDepth)
				if err != nil {
					return err
				}
				if path == nil {
					return gerrors.Newf(gerrors.CodeNotFound, "no path from %s to %s", args[0], args[1])
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum hops (0 uses the default)")
	return cmd
}

func newNeighborsCommand(opts *cliOptions) *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "neighbors <id>",
		Short: "List adjacent nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := graphstore.ParseDirection(direction)
			if err != nil {
				return gerrors.Wrap(err, gerrors.CodeValidationError, "invalid --direction")
			}
			return withSession(cmd, opts, func(s *session) error {
				nodes, err := s.engine.Neighbors(cmd.Context(), args[0], dir)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"ID", "Type", "Category"})
				for i := range nodes {
					t.AppendRow(table.Row{nodes[i].ID, nodes[i].Type, nodes[i].Category()})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&direction, "direction", "d", "out", "Edge direction: out, in or both")
	return cmd
}

func newTopCommand(opts *cliOptions) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the most connected nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				top, err := s.engine.TopByDegree(cmd.Context(), n)
				if err != nil {
					return err
				}
				t := newTable(cmd.OutOrStdout(), table.Row{"ID", "In", "Out", "Total"})
				for _, m := range top {
					t.AppendRow(table.Row{m.NodeID, m.InDegree, m.OutDegree, m.TotalDegree})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 10, "Number of nodes to list")
	return cmd
}

func newSnapshotCommand(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot [target]",
		Short: "Write a consistent copy of the store",
		Long: `snapshot copies the open store to target, or to a timestamped file under
the configured snapshot directory when target is omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return withSession(cmd, opts, func(s *session) error {
				written, err := s.engine.Snapshot(cmd.Context(), target)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), written)
				return nil
			})
		},
	}
}

func newExportCommand(opts *cliOptions) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole graph as DOT or TSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return gerrors.Wrap(err, gerrors.CodeValidationError, "invalid --format")
			}
			return withSession(cmd, opts, func(s *session) error {
				p, err := s.engine.Projection(cmd.Context())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return export.Write(cmd.OutOrStdout(), p, f)
				}
				if err := util.EnsureParentDir(output); err != nil {
					return err
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := export.Write(file, p, f); err != nil {
					_ = file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "tsv", "Export format: tsv or dot")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
