package main

import (
	"fmt"
	"os"
	"strconv"

	"log-guard/internal/model"
	"log-guard/internal/rules"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
)

func init() {
	rulesCmd := cli.Command{
		Name:  "rules",
		Usage: "print the response rules in the configured rules file",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			config := loadConfig(c)
			store := rules.NewFileStore(config.Rules.File, newLogger(config))
			loaded, problems, err := store.Load()
			if err != nil {
				return cli.NewExitError(err.Error(), -1)
			}
			for _, p := range problems {
				fmt.Fprintf(os.Stderr, "skipped: %v\n", p)
			}
			if len(loaded) == 0 {
				return cli.NewExitError("No rules were found in "+config.Rules.File, -1)
			}
			showRules(loaded)
			return nil
		},
	}

	bootstrapCommands(rulesCmd)
}

func showRules(ruleSet []model.Rule) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Priority", "Condition", "Action", "Enabled"})
	for _, r := range ruleSet {
		table.Append([]string{
			strconv.Itoa(r.ID),
			r.Name,
			strconv.Itoa(r.Priority),
			describeCondition(r.Condition),
			describeAction(r.Action),
			strconv.FormatBool(r.Enabled),
		})
	}
	table.Render()
}

func describeCondition(c model.Condition) string {
	switch cond := c.(type) {
	case model.SeverityCondition:
		return fmt.Sprintf("%s >= %s", cond.Kind(), cond.Min)
	case model.SourceAddressCondition:
		return fmt.Sprintf("%s = %s", cond.Kind(), cond.Address)
	case model.MessageContainsCondition:
		return fmt.Sprintf("%s %q", cond.Kind(), cond.Substring)
	case model.RepeatedEventCondition:
		return fmt.Sprintf("%s %dx in %s", cond.Kind(), cond.Attempts, cond.Window)
	}
	return "unknown"
}

func describeAction(a model.Action) string {
	switch act := a.(type) {
	case model.BlockAction:
		return fmt.Sprintf("%s %d min", act.Kind(), int(act.Duration.Minutes()))
	case model.AlertAction:
		return fmt.Sprintf("%s to %s", act.Kind(), act.Recipient)
	case model.ScriptAction:
		return fmt.Sprintf("%s %s", act.Kind(), act.Path)
	}
	return string(a.Kind())
}
