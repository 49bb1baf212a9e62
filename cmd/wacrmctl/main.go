package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/matheus3301/wacrm/internal/config"
	"github.com/matheus3301/wacrm/internal/profile"
)

type contextKey int

const contextKeySettings contextKey = iota

func getSettings(ctx *cli.Context) *config.Settings {
	return ctx.Context.Value(contextKeySettings).(*config.Settings)
}

// getProfile resolves and validates the --profile flag.
func getProfile(ctx *cli.Context) (string, error) {
	name := profile.Resolve(ctx.String("profile"))
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func prepareApp(ctx *cli.Context) error {
	if err := config.LoadEnv(profile.EnvPath(), ".env"); err != nil {
		return err
	}
	cfg, err := config.LoadOrDefault(ctx.String("config"))
	if err != nil {
		return err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx.Context = context.WithValue(ctx.Context, contextKeySettings, settings)
	return nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:  "wacrmctl",
		Usage: "Inspect wacrm consoles and their send journals",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "profile",
				Usage: "profile name (overrides config default)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to config file",
				Value: profile.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output in JSON format",
			},
		},
		Before: prepareApp,
		Commands: []*cli.Command{
			statusCommand,
			failedCommand,
			chatsCommand,
			configCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
