package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"grimm.is/floe/internal/config"
	"grimm.is/floe/internal/results"
)

// RunHistory prints the most recent runs from the history database.
func RunHistory(configFile string, limit int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	hist, err := results.OpenHistory(cfg.Artifacts.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	entries, err := hist.List(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN\tTOPOLOGY\tPASSED\tFAILED\tPROPAGATION\tRESULT")
	for _, e := range entries {
		result := "ok"
		if !e.Success {
			result = e.Failure
		}
		fmt.Fprintf(w, "%s\t%.8s\t%dx%dx%d\t%d\t%d\t%s\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04:05"), e.RunID,
			e.PFCount, e.PortsPerPF, e.VFsPerPort,
			e.Passed, e.Failed, e.Propagation, result)
	}
	return w.Flush()
}
