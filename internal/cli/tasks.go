package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/svgtranslate/svgbatch/internal/db"
)

// newTasksCmd creates the tasks command group
func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect translation tasks",
	}
	cmd.AddCommand(newTasksListCmd())
	return cmd
}

func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks with their stage progress",
		Long: `List tasks in the database.

Example:
  svgbatch tasks list
  svgbatch tasks list --status Running --status Pending
  svgbatch tasks list --main-only --order updated_at --desc`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, _ := cmd.Flags().GetStringArray("status")
			owner, _ := cmd.Flags().GetString("owner")
			mainOnly, _ := cmd.Flags().GetBool("main-only")
			order, _ := cmd.Flags().GetString("order")
			desc, _ := cmd.Flags().GetBool("desc")
			limit, _ := cmd.Flags().GetInt64("limit")
			offset, _ := cmd.Flags().GetInt64("offset")

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.interactiveTasks()
			if err != nil {
				return err
			}

			list, err := store.ListWithStages(cmd.Context(), db.TaskFilter{
				Statuses:     statuses,
				Owner:        owner,
				MainFileOnly: mainOnly,
				OrderBy:      order,
				Desc:         desc,
				Limit:        limit,
				Offset:       offset,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(list)
			}

			if len(list) == 0 {
				fmt.Println("No tasks found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tOWNER\tTITLE\tSTAGES")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					shortID(t.ID), t.Status, t.Owner, truncate(t.Title, 40), stageSummary(t))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringArray("status", nil, "filter by status (repeatable)")
	cmd.Flags().String("owner", "", "filter by owner")
	cmd.Flags().Bool("main-only", false, "only tasks with a main file")
	cmd.Flags().String("order", "", "order by column (default created_at)")
	cmd.Flags().Bool("desc", false, "descending order")
	cmd.Flags().Int64("limit", 50, "max tasks to list")
	cmd.Flags().Int64("offset", 0, "skip the first N tasks")
	return cmd
}

// stageSummary renders "fetch:Completed crop:Running" in stage order.
func stageSummary(t *db.Task) string {
	if len(t.Stages) == 0 {
		return "-"
	}
	stages := make([]*db.Stage, 0, len(t.Stages))
	for _, s := range t.Stages {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].Number != stages[j].Number {
			return stages[i].Number < stages[j].Number
		}
		return stages[i].Name < stages[j].Name
	})
	out := ""
	for i, s := range stages {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%s", s.Name, s.Status)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
