package main

import (
	"fmt"
	"os"

	"github.com/joeycumines/leangym/internal/command"
	"github.com/joeycumines/leangym/internal/config"
)

var version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	configPath, err := config.GetConfigPath()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return err
	}
	return newRegistry(cfg, configPath).Run(args, os.Stdout, os.Stderr)
}

func newRegistry(cfg *config.Config, configPath string) *command.Registry {
	registry := command.NewRegistry()
	registry.Register(command.NewHelpCommand(registry))
	registry.Register(command.NewVersionCommand(version))
	registry.Register(command.NewConfigCommand(cfg, configPath))
	registry.Register(command.NewInitCommand(configPath))
	registry.Register(command.NewRunCommand(cfg))
	registry.Register(command.NewReplCommand(cfg, os.Stdin))
	return registry
}
