package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// baseCommand holds what every command needs.
type baseCommand struct {
	Log hclog.Logger
	UI  cli.Ui
}

func commands(log hclog.Logger, ui cli.Ui) map[string]cli.CommandFactory {
	base := &baseCommand{Log: log, UI: ui}

	return map[string]cli.CommandFactory{
		"migrate": func() (cli.Command, error) {
			return &MigrateCommand{baseCommand: base}, nil
		},
		"provision": func() (cli.Command, error) {
			return &ProvisionCommand{baseCommand: base}, nil
		},
		"history": func() (cli.Command, error) {
			return &HistoryCommand{baseCommand: base}, nil
		},
		"version": func() (cli.Command, error) {
			return &VersionCommand{baseCommand: base}, nil
		},
	}
}

// flagHelp renders the flags of f for a Help text.
func flagHelp(f *flag.FlagSet) string {
	var b strings.Builder
	b.WriteString("\n\nOptions:\n")
	f.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&b, "\n  -%s", fl.Name)
		if fl.DefValue != "" && fl.DefValue != "false" && fl.DefValue != "0" {
			fmt.Fprintf(&b, "=%s", fl.DefValue)
		}
		fmt.Fprintf(&b, "\n      %s\n", fl.Usage)
	})
	return b.String()
}

// setFlags returns the names of the flags given on the command line.
func setFlags(f *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	f.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})
	return set
}
