package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fame/core/internal/analysis"
	"github.com/fame/core/internal/catalog"
	"github.com/fame/core/internal/dispatcher"
	"github.com/fame/core/internal/queue"
)

func analysesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyses",
		Short: "Inspect analyses",
	}
	cmd.AddCommand(analysesShowCmd())
	return cmd
}

func analysesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an analysis's current state",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalysesShow,
	}
	cmd.Flags().Bool("json", false, "print the raw Analysis document as JSON")
	return cmd
}

func runAnalysesShow(cmd *cobra.Command, args []string) error {
	s, err := openStore(cmd)
	if err != nil {
		return err
	}
	c := catalog.New()
	if err := c.Load(s); err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	d := dispatcher.New(c)
	q := queue.NewInProcess()
	e := analysis.NewEngine(s, c, d, q, nil)

	a, err := e.Get(args[0])
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}

	fmt.Printf("%s %s\n", bold("analysis"), cyan(a.ID))
	fmt.Printf("  status:    %s\n", statusColor(a.Status))
	fmt.Printf("  file:      %s\n", a.FileID)
	fmt.Printf("  created:   %s\n", a.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("  pending:   %s\n", strings.Join(a.PendingModules, ", "))
	fmt.Printf("  waiting:   %s\n", strings.Join(a.WaitingModules, ", "))
	fmt.Printf("  executed:  %s\n", strings.Join(a.ExecutedModules, ", "))
	fmt.Printf("  canceled:  %s\n", strings.Join(a.CanceledModules, ", "))
	if len(a.Tags) > 0 {
		fmt.Printf("  tags:      %s\n", strings.Join(a.Tags, ", "))
	}
	return nil
}

func statusColor(status analysis.Status) string {
	switch status {
	case analysis.StatusFinished:
		return green(string(status))
	case analysis.StatusError:
		return red(string(status))
	default:
		return cyan(string(status))
	}
}
