package main

import (
	"fmt"

	"log-guard/internal/alert"
	"log-guard/internal/detection"
	"log-guard/internal/rules"
	"log-guard/internal/utils"

	"github.com/urfave/cli"
)

func init() {
	testConfigCmd := cli.Command{
		Name:  "test-config",
		Usage: "validate the configuration, rules file and model file",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			config, err := utils.LoadConfig(path)
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("Invalid configuration %s: %v", path, err), -1)
			}
			fmt.Printf("Configuration %s is valid\n", path)
			fmt.Printf("  monitor mode:   %s\n", config.Monitor.Mode)
			fmt.Printf("  storage:        %s\n", config.Storage.Backend)
			fmt.Printf("  metrics port:   %s\n", config.GetPrometheusPort())
			fmt.Printf("  api port:       %s\n", config.API.Port)

			logger := newLogger(config)
			loaded, problems, err := rules.NewFileStore(config.Rules.File, logger).Load()
			if err != nil {
				return cli.NewExitError(fmt.Sprintf("Rules file %s: %v", config.Rules.File, err), -1)
			}
			fmt.Printf("  rules:          %d loaded, %d skipped\n", len(loaded), len(problems))
			for _, p := range problems {
				fmt.Printf("    - %v\n", p)
			}

			if config.Detection.ModelPath != "" {
				m, err := detection.LoadTokenModel(config.Detection.ModelPath)
				if err != nil {
					return cli.NewExitError(fmt.Sprintf("Model %s: %v", config.Detection.ModelPath, err), -1)
				}
				fmt.Printf("  model:          %s\n", m.Name)
			}
			return nil
		},
	}

	testTelegramCmd := cli.Command{
		Name:  "test-telegram",
		Usage: "send a test message to the configured Telegram chat",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			config := loadConfig(c)
			tg := config.Alerting.Telegram
			notifier := alert.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.ParseMode, tg.Enabled, newLogger(config))

			if !notifier.IsEnabled() {
				return cli.NewExitError("Telegram notifier is disabled in configuration", -1)
			}

			fmt.Println("Sending test message to Telegram...")
			if err := notifier.SendTestMessage(); err != nil {
				return cli.NewExitError(fmt.Sprintf("Failed to send test message: %v", err), -1)
			}
			fmt.Println("Test message sent successfully to Telegram!")
			return nil
		},
	}

	bootstrapCommands(testConfigCmd, testTelegramCmd)
}
