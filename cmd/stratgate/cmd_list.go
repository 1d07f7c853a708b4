package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratgate/stratgate/internal/manifest"
	"github.com/stratgate/stratgate/internal/store"
)

var (
	listDBDSN string
	listStage string
	listLimit int
)

// listCmd implements the 'stratgate list' command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexed promotion attempts by stage",
	Long: `Query the PostgreSQL manifest index for past promotion attempts at a
given stage, newest first.

Example usage:
  stratgate list --db "postgres://..." --stage final
  stratgate list --db "postgres://..." --stage gate2_passed --limit 5`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listDBDSN, "db", "", "PostgreSQL DSN for the manifest index (required)")
	listCmd.Flags().StringVar(&listStage, "stage", string(manifest.StageFinal), "Stage to list: tuning, gate1_passed, gate2_passed, final")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum rows to return")
	listCmd.MarkFlagRequired("db")
}

func runList(cmd *cobra.Command, args []string) error {
	index, err := store.NewPostgres(listDBDSN, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting manifest index: %w", err)
	}
	defer index.Close()

	rows, err := index.ListByStage(cmd.Context(), manifest.Stage(listStage), listLimit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Printf("No manifests at stage %s\n", listStage)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MANIFEST\tCREATED\tSCORE\tCANDIDATES\tPATH")
	for _, row := range rows {
		score := "-"
		if row.BestScore != nil {
			score = fmt.Sprintf("%.4f", *row.BestScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			row.ManifestID, row.CreatedAt.Format("2006-01-02 15:04"), score, row.Candidates, row.Path)
	}
	return w.Flush()
}
