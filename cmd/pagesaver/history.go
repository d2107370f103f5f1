package main

import (
	"errors"
	"time"

	"github.com/pterm/pterm"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesaver/internal/audit"
	"github.com/hazyhaar/pagesaver/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent API and MCP calls",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

var lastCmd = &cobra.Command{
	Use:   "last",
	Short: "Show the last saved screenshot",
	Args:  cobra.NoArgs,
	RunE:  runLast,
}

func init() {
	historyCmd.Flags().String("kind", "", "filter by kind: visible, fullpage, area, images, archive")
	historyCmd.Flags().Int("limit", 20, "maximum number of runs")
	historyCmd.Flags().Duration("prune", 0, "delete runs older than this before listing")

	auditCmd.Flags().String("op", "", "filter by operation")
	auditCmd.Flags().Bool("errors", false, "only failed calls")
	auditCmd.Flags().Int("limit", 20, "maximum number of entries")
	auditCmd.Flags().Duration("prune", 0, "delete entries older than this before listing")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 && a.store != nil {
		n, err := a.store.Prune(cmd.Context(), time.Now().Add(-prune))
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Pruned %d runs", n)
	}

	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := a.saver.History(cmd.Context(), kind, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded")
		return nil
	}

	rows := pterm.TableData{{"Time", "Kind", "Status", "Path", "URL"}}
	rows = append(rows, lo.Map(runs, func(r *store.Run, _ int) []string {
		return []string{r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.Path, r.URL}
	})...)
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runLast(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	run, err := a.saver.Last(cmd.Context())
	if errors.Is(err, store.ErrNotFound) {
		pterm.Info.Println("No screenshot saved yet")
		return nil
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s  %s (%s)", run.CreatedAt.Local().Format("2006-01-02 15:04:05"), run.Path, run.Kind)
	return nil
}

func runAudit(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context(), cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.audit == nil {
		return errors.New("audit trail needs the history database (--no-history is set)")
	}

	if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
		n, err := a.audit.Cleanup(cmd.Context(), time.Now().Add(-prune))
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Pruned %d entries", n)
	}

	f := audit.Filter{}
	f.Operation, _ = cmd.Flags().GetString("op")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if v, _ := cmd.Flags().GetBool("errors"); v {
		f.Status = audit.StatusError
	}
	entries, err := a.audit.Query(cmd.Context(), f)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Println("No calls recorded")
		return nil
	}

	rows := pterm.TableData{{"Time", "Op", "Transport", "Status", "Duration", "Error"}}
	for _, e := range entries {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Operation, e.Transport,
			e.Status, e.Duration.String(), e.Error,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
