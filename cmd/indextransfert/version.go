package main

import "fmt"

type VersionCommand struct {
	*baseCommand
}

func (c *VersionCommand) Synopsis() string {
	return "Print the version"
}

func (c *VersionCommand) Help() string {
	return "Usage: index-transfert version"
}

func (c *VersionCommand) Run(_ []string) int {
	c.UI.Output(fmt.Sprintf("%s %s", cliName, version))
	return 0
}
