package main

import (
	"fmt"

	"log-guard/internal/utils"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var allCommands []cli.Command

var configFlag = cli.StringFlag{
	Name:  "config, c",
	Usage: "load configuration from `FILE`",
	Value: utils.DefaultConfigPath,
}

func init() {
	bootstrapCommands(cli.Command{
		Name:  "version",
		Usage: "print the version",
		Action: func(c *cli.Context) error {
			fmt.Printf("log-guard v%s\n", getVersion())
			return nil
		},
	})
}

func bootstrapCommands(commands ...cli.Command) {
	allCommands = append(allCommands, commands...)
}

// loadConfig falls back to the built-in defaults when the file is unusable.
func loadConfig(c *cli.Context) *utils.Config {
	path := c.String("config")
	config, err := utils.LoadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load YAML config %s: %v\n", path, err)
		fmt.Println("Using default configuration...")
		config = utils.GetDefaultConfig()
	} else {
		fmt.Printf("Loaded configuration from %s\n", path)
	}
	return config
}

func newLogger(config *utils.Config) *logrus.Logger {
	logger, err := utils.NewLoggerFromConfig(config.Logging)
	if err != nil {
		logger.Warnf("File logging disabled: %v", err)
	}
	return logger
}
