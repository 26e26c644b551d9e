package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agent-mcp/agentmcp/pkg/config"
	"github.com/agent-mcp/agentmcp/pkg/orchestrator"
)

// ServeCmd starts the orchestration server and blocks until it is
// signalled to shut down.
type ServeCmd struct {
	Config     string `arg:"" optional:"" name:"config" help:"Path to agentmcp.yaml. Defaults apply if omitted." type:"path"`
	Port       int    `help:"Override the configured listen port."`
	ProjectDir string `name:"project-dir" help:"Override the configured project directory." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if c.Port != 0 {
		cfg.Port = c.Port
	}
	if c.ProjectDir != "" {
		cfg.ProjectDir = c.ProjectDir
	}

	o, err := orchestrator.Boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}
	return o.Run(ctx)
}
