package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mouradhm/index-transfert/pkg/config"
	"github.com/mouradhm/index-transfert/pkg/journal"
)

type HistoryCommand struct {
	*baseCommand

	flagConfig   string
	flagJournal  string
	flagLimit    int
	flagFailures string
}

func (c *HistoryCommand) Synopsis() string {
	return "List the migration runs recorded in the journal"
}

func (c *HistoryCommand) Help() string {
	return `Usage: index-transfert history [options]

  Prints the most recent runs recorded in the SQLite journal. The journal
  path is taken from -journal, or from the journal key of the config file.` + flagHelp(c.Flags())
}

func (c *HistoryCommand) Flags() *flag.FlagSet {
	f := flag.NewFlagSet("history", flag.ContinueOnError)
	f.StringVar(&c.flagConfig, "config", "config.yaml", "Path to the configuration file")
	f.StringVar(&c.flagJournal, "journal", "", "Path of the SQLite run journal")
	f.IntVar(&c.flagLimit, "limit", 20, "Maximum number of runs to list, 0 for all")
	f.StringVar(&c.flagFailures, "failures", "", "List the rejected documents of this run instead")
	return f
}

func (c *HistoryCommand) Run(args []string) int {
	ui := c.UI

	f := c.Flags()
	f.SetOutput(io.Discard)
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	path := c.flagJournal
	if path == "" {
		cfg, err := config.Read(c.flagConfig)
		if err != nil {
			ui.Error(err.Error())
			return 1
		}
		path = cfg.Journal
	}
	if path == "" {
		ui.Error("no journal configured: pass -journal or set journal in the config file")
		return 1
	}

	j, err := journal.Open(path)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer j.Close()

	ctx := context.Background()
	if c.flagFailures != "" {
		return c.printFailures(ctx, j, c.flagFailures)
	}

	runs, err := j.Runs(ctx, c.flagLimit)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	if len(runs) == 0 {
		ui.Output("No runs recorded")
		return 0
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSOURCE\tDESTINATION\tSTATUS\tWRITTEN\tFAILED\tBATCHES\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s/%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime),
			r.SourceKind, r.SourceIndex, r.DestinationKind, r.DestinationIndex,
			r.Status, r.Written, r.Failed, r.Batches, duration)
	}
	w.Flush()
	ui.Output(strings.TrimRight(b.String(), "\n"))
	return 0
}

func (c *HistoryCommand) printFailures(ctx context.Context, j *journal.Journal, runID string) int {
	failures, err := j.Failures(ctx, runID)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}
	if len(failures) == 0 {
		c.UI.Output(fmt.Sprintf("No rejected documents for run %s", runID))
		return 0
	}
	for _, f := range failures {
		c.UI.Output(fmt.Sprintf("  - ✗ %s", f.Error()))
	}
	return 0
}
