package main

import (
	"os"
	"strings"

	"github.com/urfave/cli"
)

func getVersion() string {
	content, err := os.ReadFile("VERSION")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(content))
}

func main() {
	app := cli.NewApp()
	app.Name = "log-guard"
	app.Usage = "Watch log lines for threats and respond with rules."
	app.Version = getVersion()
	app.Commands = allCommands

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
