package main

import (
	"fmt"

	"github.com/agent-mcp/agentmcp/pkg/config"
)

// ValidateCmd loads a configuration file and reports whether it is
// valid, without starting the server.
type ValidateCmd struct {
	Config string `arg:"" name:"config" help:"Configuration file path."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		return err
	}
	fmt.Printf("configuration is valid: %s\n", c.Config)
	fmt.Printf("  project_dir: %s\n", cfg.ProjectDir)
	fmt.Printf("  port: %d\n", cfg.Port)
	fmt.Printf("  enabled_categories: %v\n", cfg.Tools.EnabledCategories)
	return nil
}
