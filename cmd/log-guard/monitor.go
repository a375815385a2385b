package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log-guard/internal/app"
	"log-guard/internal/model"
	"log-guard/internal/monitor"
	"log-guard/internal/utils"

	"github.com/urfave/cli"
)

func init() {
	monitorCmd := cli.Command{
		Name:  "monitor",
		Usage: "tail a log file and respond to what it contains",
		Flags: []cli.Flag{
			configFlag,
			cli.StringFlag{
				Name:  "file, f",
				Usage: "follow `PATH` instead of monitor.target",
			},
		},
		Action: func(c *cli.Context) error {
			config := loadConfig(c)
			target := c.String("file")
			if target == "" {
				target = config.Monitor.Target
			}
			if target == "" {
				return cli.NewExitError("Specify a file with --file or monitor.target", -1)
			}
			return runSession(config, monitor.ModeFile, target)
		},
	}

	simulateCmd := cli.Command{
		Name:  "simulate",
		Usage: "feed generated traffic through the engine",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			return runSession(loadConfig(c), monitor.ModeSim, "")
		},
	}

	bootstrapCommands(monitorCmd, simulateCmd)
}

// runSession prints every processed line to stdout until interrupted or
// until the worker stops on its own.
func runSession(config *utils.Config, mode monitor.Mode, target string) error {
	logger := newLogger(config)

	a, err := app.New(config, logger)
	if err != nil {
		return cli.NewExitError(err.Error(), -1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.StartBackground(ctx); err != nil {
		logger.Warnf("Prometheus exporter disabled: %v", err)
	}

	fmt.Printf("\n=============== LOG GUARD v%s ===============\n", getVersion())
	fmt.Printf("Mode: %s  Model: %s  Rules: %d\n\n", mode, a.Scorer.StatusLine(), len(a.Engine.Rules()))

	go a.ForwardAlerts(ctx, printAlert)

	if err := a.Controller.Start(target, mode, monitor.NewWriterSink(os.Stdout)); err != nil {
		return cli.NewExitError(err.Error(), -1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			fmt.Println("\nStopping monitor...")
			a.Controller.Stop()
			printSummary(a.Controller.Stats())
			return nil
		case <-ticker.C:
			if a.Controller.State() == monitor.StateIdle {
				printSummary(a.Controller.Stats())
				return nil
			}
		}
	}
}

func printAlert(al model.Alert) {
	timestamp := al.Timestamp.Format("2006-01-02 15:04:05")
	fmt.Printf("\n[ALERT] [%s] %s %s - %s\n", timestamp, al.Severity, al.Rule, al.Description)
}

func printSummary(stats model.RunningStats) {
	fmt.Printf("Processed %d lines, %d anomalies, %d threats blocked\n",
		stats.LogsProcessed, stats.AnomaliesTotal, stats.ThreatsBlocked)
}
