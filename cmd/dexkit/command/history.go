package command

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/apk-analysis/dexkit-bridge/internal/repository"
	"github.com/spf13/cobra"
)

func newHistoryCommand(g *globals) (cmd *cobra.Command) {
	var limit int
	var stats bool
	var asJSON bool

	cmd = &cobra.Command{
		Use:   "history",
		Short: "Print recent engine constructions",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repository.InitDB(&g.cfg.Database, g.logger)
			if err != nil {
				return fmt.Errorf("init database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			repo := repository.NewLoadRecordRepository(db, g.logger)
			out := cmd.OutOrStdout()

			if stats {
				s, err := repo.GetStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, s)
				}
				fmt.Fprintf(out, "total: %d  images: %d  path: %d  failed: %d  released: %d\n",
					s.Total, s.ImagesCount, s.PathCount, s.FailedCount, s.ReleasedCount)
				fmt.Fprintf(out, "avg_duration_us: %.1f  avg_images: %.2f\n", s.AvgDurationUs, s.AvgImages)
				return nil
			}

			records, err := repo.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, records)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CREATED\tHANDLE\tSOURCE\tMODE\tDEX\tIMAGES\tPATH\tERROR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"), r.Handle, r.Source, r.Mode,
					r.DexNum, r.ImageCount, r.Path, r.ErrorMessage)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	cmd.Flags().BoolVar(&stats, "stats", false, "print aggregate statistics instead of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(output))
	return nil
}
