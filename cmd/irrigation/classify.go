package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/irrigation-engine/internal/domain"
	cli "github.com/urfave/cli/v3"
)

func newClassifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Print the severity tier of a forecast change",
		UsageText: `irrigation-engine classify --old '{"pluiePrevue":0}' --new '{"pluiePrevue":25}'`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "old", Usage: "previous conditions as JSON", Value: "{}"},
			&cli.StringFlag{Name: "new", Usage: "new conditions as JSON", Required: true},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			severity, description, err := classify(cmd.String("old"), cmd.String("new"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.Root().Writer, "%s: %s\n", severity, description)
			return err
		},
	}
}

func classify(oldJSON, newJSON string) (domain.Severity, string, error) {
	var old, updated domain.WeatherConditions
	if err := json.Unmarshal([]byte(oldJSON), &old); err != nil {
		return domain.SeverityLow, "", fmt.Errorf("invalid --old: %w", err)
	}
	if err := json.Unmarshal([]byte(newJSON), &updated); err != nil {
		return domain.SeverityLow, "", fmt.Errorf("invalid --new: %w", err)
	}
	return domain.Classify(&old, &updated), domain.Describe(&old, &updated), nil
}
