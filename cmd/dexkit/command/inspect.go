package command

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apk-analysis/dexkit-bridge/internal/art"
	"github.com/apk-analysis/dexkit-bridge/internal/bridge"
	"github.com/apk-analysis/dexkit-bridge/internal/dexfile"
	"github.com/apk-analysis/dexkit-bridge/internal/engine"
	"github.com/apk-analysis/dexkit-bridge/internal/repository"
	"github.com/spf13/cobra"
)

type inspectResult struct {
	Path      string                 `json:"path"`
	Handle    int64                  `json:"handle"`
	DexNum    int                    `json:"dex_num"`
	ThreadNum int                    `json:"thread_num"`
	Header    *dexfile.HeaderSummary `json:"header,omitempty"`
}

func newInspectCommand(g *globals) (cmd *cobra.Command) {
	var threads int
	var record bool
	var asJSON bool

	cmd = &cobra.Command{
		Use:     "inspect <path>",
		Short:   "Construct an engine from an APK or DEX path and report it",
		Example: `dexkit inspect /data/app/com.example/base.apk --threads 4`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if threads <= 0 {
				threads = g.cfg.Bridge.ThreadNum
			}

			var history bridge.History
			if record {
				db, err := repository.InitDB(&g.cfg.Database, g.logger)
				if err != nil {
					return fmt.Errorf("init database: %w", err)
				}
				sqlDB, err := db.DB()
				if err == nil {
					defer sqlDB.Close()
				}
				history = repository.NewLoadRecordRepository(db, g.logger)
			}

			walker := art.NewWalker(nil, nil, g.cfg.Bridge.Layout(), g.logger)
			b := bridge.New(engine.NewFactory(threads), walker, g.logger, nil, history)

			handle := b.InitFromPath(path)
			if handle == 0 {
				return fmt.Errorf("engine construction failed for %s", path)
			}
			defer b.Release(handle)

			info, err := b.Describe(handle)
			if err != nil {
				return err
			}

			res := inspectResult{
				Path:      path,
				Handle:    handle,
				DexNum:    info.DexNum,
				ThreadNum: info.ThreadNum,
			}
			if strings.EqualFold(filepath.Ext(path), ".dex") {
				res.Header, err = dexfile.ReadHeaderFile(path)
				if err != nil {
					g.logger.WithError(err).Warn("Failed to read dex header")
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				output, err := json.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(output))
				return nil
			}

			fmt.Fprintf(out, "path:       %s\n", res.Path)
			fmt.Fprintf(out, "dex_num:    %d\n", res.DexNum)
			fmt.Fprintf(out, "thread_num: %d\n", res.ThreadNum)
			if h := res.Header; h != nil {
				fmt.Fprintf(out, "version:    %s\n", h.Version)
				fmt.Fprintf(out, "file_size:  %d\n", h.FileSize)
				fmt.Fprintf(out, "strings:    %d\n", h.Strings)
				fmt.Fprintf(out, "types:      %d\n", h.Types)
				fmt.Fprintf(out, "methods:    %d\n", h.Methods)
				fmt.Fprintf(out, "classes:    %d\n", h.Classes)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 0, "engine thread count (config bridge.thread_num when 0)")
	cmd.Flags().BoolVar(&record, "record", false, "write a load record to the history database")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	return cmd
}
