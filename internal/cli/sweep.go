package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Juanbuhler/zmlp-sub000/engine"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [name]",
	Short: "Run cluster maintenance once",
	Long: `Run one maintenance entry, or all of them, against the configured
store and exit. Entries hold the same cluster locks as a running replica,
so a sweep never overlaps one already in progress.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	s, closeStore, err := engine.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer closeStore() //nolint:errcheck // best effort on exit

	eng, err := engine.New(s, engineOptions(cfg, logger)...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		ran, err := eng.RunMaintenance(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", args[0], outcome(ran))
		return nil
	}

	results, err := eng.SweepAll(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s\t%s\n", name, outcome(results[name]))
	}
	return err
}

func outcome(ran bool) string {
	if ran {
		return "ran"
	}
	return "skipped (locked)"
}
