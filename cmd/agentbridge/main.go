// Package main is the entry point for agentbridge: an ACP agent-role
// process that bridges an editor/IDE client, speaking ACP over this
// process's own stdio, to an agent subprocess speaking the NDJSON
// control/content protocol on its own stdio (spec §4.9).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	bridgeacp "github.com/kandev/agentbridge/internal/bridge/acp"
	"github.com/kandev/agentbridge/internal/bridge/orchestrator"
	"github.com/kandev/agentbridge/internal/bridge/workerpool"
	"github.com/kandev/agentbridge/internal/common/config"
	"github.com/kandev/agentbridge/internal/common/logger"
	"github.com/kandev/agentbridge/internal/common/tracing"
	"github.com/kandev/agentbridge/internal/sessionindex"
)

const (
	agentName    = "agentbridge"
	agentVersion = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbridge: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbridge: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracing.Init(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName); err != nil {
		log.Warn("failed to initialize tracing, continuing with no-op tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	var idx *sessionindex.Store
	if cfg.SessionIndex.Path != "" {
		idx, err = sessionindex.Open(cfg.SessionIndex.Path)
		if err != nil {
			log.Fatal("failed to open session index", zap.Error(err))
		}
		defer idx.Close()
	}

	agent := bridgeacp.New(nil, log, agentName, agentVersion)
	orch := orchestrator.New(cfg, log, idx, agent.AskPermission)
	agent.SetOrchestrator(orch)

	pool := workerpool.New(workerpool.Options{
		InitialSize:   cfg.WorkerPool.InitialSize,
		SoftMax:       cfg.WorkerPool.SoftMax,
		MaxUses:       cfg.WorkerPool.MaxUses,
		SystemPrompt:  cfg.WorkerPool.SystemPrompt,
		Executable:    cfg.Subprocess.Command,
		ExtraArgs:     cfg.Subprocess.ExtraArgs,
		ShutdownGrace: cfg.Subprocess.ShutdownGrace,
	}, log)
	orch.SetWorkerPool(pool)
	go func() {
		if err := pool.Warmup(ctx); err != nil {
			log.Warn("worker pool warmup failed, title refinement disabled until a later query succeeds", zap.Error(err))
		}
	}()
	defer pool.Shutdown()

	conn := acp.NewAgentSideConnection(agent, os.Stdout, os.Stdin)
	agent.SetConnection(conn)

	log.Info("agentbridge starting",
		zap.String("version", agentVersion),
		zap.String("subprocess_command", cfg.Subprocess.Command))

	_ = conn
	<-ctx.Done()
	log.Info("shutdown signal received, closing sessions")

	orch.Shutdown()
	log.Info("agentbridge stopped")
}
