package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/mouradhm/index-transfert/pkg/activities"
)

type ProvisionCommand struct {
	*baseCommand
	configFlags
}

func (c *ProvisionCommand) Synopsis() string {
	return "Create the destination index without copying documents"
}

func (c *ProvisionCommand) Help() string {
	return `Usage: index-transfert provision [options]

  Connects to both services and creates the destination index from the
  mapping document. An existing index is left untouched.` + flagHelp(c.Flags())
}

func (c *ProvisionCommand) Flags() *flag.FlagSet {
	f := flag.NewFlagSet("provision", flag.ContinueOnError)
	c.configFlags.register(f)
	return f
}

func (c *ProvisionCommand) Run(args []string) int {
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
	mapping, err := prepare(cfg, logger)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	ctx, cancel := runContext(cfg)
	defer cancel()

	conn, err := activities.Connect(ctx, cfg, activities.WithLogger(logger))
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	defer func() {
		if err := conn.Close(context.Background()); err != nil {
			logger.Warn("error closing connections", "error", err)
		}
	}()

	created, err := activities.EnsureIndex(ctx, conn.Destination, cfg.Destination.Index, mapping, logger)
	if err != nil {
		ui.Error(err.Error())
		return 1
	}

	if created {
		ui.Output(fmt.Sprintf("Created index %s/%s", cfg.Destination.Kind, cfg.Destination.Index))
	} else {
		ui.Output(fmt.Sprintf("Index %s/%s already exists", cfg.Destination.Kind, cfg.Destination.Index))
	}
	return 0
}
