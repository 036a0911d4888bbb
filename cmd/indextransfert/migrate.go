package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/mouradhm/index-transfert/pkg/activities"
	"github.com/mouradhm/index-transfert/pkg/config"
	"github.com/mouradhm/index-transfert/pkg/journal"
	"github.com/mouradhm/index-transfert/pkg/models"
)

// maxPrintedFailures bounds the rejected documents listed in the summary.
const maxPrintedFailures = 10

type MigrateCommand struct {
	*baseCommand
	configFlags

	flagBatchSize int
	flagJournal   string
	flagStrict    bool
}

func (c *MigrateCommand) Synopsis() string {
	return "Copy every document of the source index into the destination index"
}

func (c *MigrateCommand) Help() string {
	return `Usage: index-transfert migrate [options]

  Connects to the source and destination services, creates the destination
  index from the mapping document when it does not exist, then copies every
  source document in batches. This is the default command.` + flagHelp(c.Flags())
}

func (c *MigrateCommand) Flags() *flag.FlagSet {
	f := flag.NewFlagSet("migrate", flag.ContinueOnError)
	c.configFlags.register(f)
	f.IntVar(&c.flagBatchSize, "batch-size", 0, "Documents per bulk write (overrides the config file)")
	f.StringVar(&c.flagJournal, "journal", "", "Path of the SQLite run journal (overrides the config file)")
	f.BoolVar(&c.flagStrict, "strict", false, "Abort on the first batch with rejected documents")
	return f
}

func (c *MigrateCommand) Run(args []string) int {
	logger, ui := c.Log, c.UI

	f := c.Flags()
	f.SetOutput(io.Discard)
	if err := f.Parse(args); err != nil {
		ui.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := c.load(logger)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	set := setFlags(f)
	if set["batch-size"] {
		cfg.BatchSize = c.flagBatchSize
	}
	if set["journal"] {
		cfg.Journal = c.flagJournal
	}
	if set["strict"] {
		cfg.Strict = c.flagStrict
	}

	mapping, err := prepare(cfg, logger)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ctx, cancel := runContext(cfg)
	defer cancel()

	result, err := c.migrate(ctx, cfg, mapping)
	if result.SourceIndex != "" {
		printSummary(ui, cfg, result)
	}
	if err != nil {
		logger.Error("migration failed", "error", err)
		ui.Error(fmt.Sprintf("migration failed: %v", err))
		return 1
	}
	if !result.Success() {
		ui.Error(fmt.Sprintf("%d documents were rejected by the destination", result.DocumentsFailed))
		return 1
	}

	logger.Info("success", "documents", result.DocumentsWritten, "duration", result.Duration)
	return 0
}

// migrate runs connect, provision and migrate, recording the run in the
// journal when one is configured.
func (c *MigrateCommand) migrate(ctx context.Context, cfg *config.Config, mapping models.Mapping) (result models.TransferResult, err error) {
	logger := c.Log
	opts := activities.MigrateOptions{Strict: cfg.Strict, Logger: logger}

	if cfg.Journal != "" {
		j, run, jerr := startRun(ctx, cfg)
		if jerr != nil {
			return result, jerr
		}
		defer j.Close()

		logger.Info("recording run", "run_id", run.ID, "journal", cfg.Journal)
		opts.RunID = run.ID
		opts.Observers = append(opts.Observers, run)

		defer func() {
			// the run context may be expired by now
			finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if ferr := run.Finish(finishCtx, result, err); ferr != nil {
				logger.Warn("failed to record run outcome", "run_id", run.ID, "error", ferr)
			}
		}()
	}

	conn, err := activities.Connect(ctx, cfg, activities.WithLogger(logger))
	if err != nil {
		return result, err
	}
	defer func() {
		if cerr := conn.Close(context.Background()); cerr != nil {
			logger.Warn("error closing connections", "error", cerr)
		}
	}()

	if _, err = activities.EnsureIndex(ctx, conn.Destination, cfg.Destination.Index, mapping, logger); err != nil {
		return result, err
	}

	result, err = activities.Migrate(ctx, conn.Source, conn.Destination,
		cfg.Source.Index, cfg.Destination.Index, cfg.BatchSize, opts)
	return result, err
}

func startRun(ctx context.Context, cfg *config.Config) (*journal.Journal, *journal.Run, error) {
	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, nil, err
	}
	run, err := j.StartRun(ctx, journal.RunInfo{
		Command:          "migrate",
		SourceKind:       cfg.Source.Kind,
		SourceIndex:      cfg.Source.Index,
		DestinationKind:  cfg.Destination.Kind,
		DestinationIndex: cfg.Destination.Index,
		BatchSize:        cfg.BatchSize,
		Strict:           cfg.Strict,
	})
	if err != nil {
		j.Close()
		return nil, nil, err
	}
	return j, run, nil
}

// printSummary prints a summary of the transfer result
func printSummary(ui interface{ Output(string) }, cfg *config.Config, result models.TransferResult) {
	ui.Output("\n=== Index Transfer Summary ===")
	if result.RunID != "" {
		ui.Output(fmt.Sprintf("Run: %s", result.RunID))
	}
	ui.Output(fmt.Sprintf("Source: %s/%s", cfg.Source.Kind, result.SourceIndex))
	ui.Output(fmt.Sprintf("Destination: %s/%s", cfg.Destination.Kind, result.DestinationIndex))
	ui.Output(fmt.Sprintf("Documents scanned: %d", result.DocumentsScanned))
	ui.Output(fmt.Sprintf("Documents written: %d", result.DocumentsWritten))
	ui.Output(fmt.Sprintf("Documents failed: %d", result.DocumentsFailed))
	ui.Output(fmt.Sprintf("Batches: %d", result.Batches))
	ui.Output(fmt.Sprintf("Duration: %s", result.Duration.Round(time.Millisecond)))
	ui.Output(fmt.Sprintf("Success: %v", result.Success()))

	if len(result.Failures) == 0 {
		return
	}
	ui.Output("\nRejected documents:")
	for i, f := range result.Failures {
		if i == maxPrintedFailures {
			ui.Output(fmt.Sprintf("  ... and %d more", result.DocumentsFailed-maxPrintedFailures))
			break
		}
		ui.Output(fmt.Sprintf("  - ✗ %s", f.Error()))
	}
}
