package main

import (
	"bufio"
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

const cliName = "index-transfert"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	os.Exit(run(os.Args[1:], ui, os.Stderr))
}

// run dispatches args to a command and returns the exit code.
func run(args []string, ui cli.Ui, logOutput io.Writer) int {
	log := hclog.New(&hclog.LoggerOptions{
		Name:   cliName,
		Level:  hclog.Info,
		Output: logOutput,
	})

	if len(args) == 1 && (args[0] == "-version" || args[0] == "-v") {
		args = []string{"version"}
	}

	// no subcommand, or only flags: default to migrate
	if len(args) == 0 || (len(args[0]) > 0 && args[0][0] == '-' && !isHelp(args[0])) {
		args = append([]string{"migrate"}, args...)
	}

	c := &cli.CLI{
		Name:     cliName,
		Args:     args,
		Version:  version,
		Commands: commands(log, ui),
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return exitCode
}

func isHelp(arg string) bool {
	switch arg {
	case "-h", "-help", "--help":
		return true
	}
	return false
}
