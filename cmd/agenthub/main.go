// Command agenthub is the entry point for the Agent Runtime Core: it wires
// the store, process supervisor, ACP client machinery, orchestrator,
// chat-bridge manager, scheduler, and command surface together and serves
// the desktop GUI's HTTP/WebSocket API until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	"github.com/infiniact/agent-hub-sub000/internal/chatbridge"
	"github.com/infiniact/agent-hub-sub000/internal/commandsurface"
	"github.com/infiniact/agent-hub-sub000/internal/common/config"
	dbpkg "github.com/infiniact/agent-hub-sub000/internal/common/db"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/orchestrator"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
	"github.com/infiniact/agent-hub-sub000/internal/scheduler"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agent runtime core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := dbpkg.Open(cfg.Database.Path, cfg.Database.BusyTimeout(), cfg.Database.ReaderPoolSize)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer handle.Close()

	repo, err := store.New(handle)
	if err != nil {
		log.Fatal("failed to initialize store", zap.Error(err))
	}

	if err := ensureDefaultWorkspace(ctx, repo, cfg.Workspace.DefaultWorkingDir); err != nil {
		log.Fatal("failed to ensure default workspace", zap.Error(err))
	}

	evt := bus.NewMemoryBus()
	defer evt.Close()

	registry := provisioner.NewRegistry()
	discovery := provisioner.NewDiscovery(registry, log)
	prov, err := provisioner.New(registry, cfg.Provisioner.HomeDir, time.Duration(cfg.Provisioner.ArchiveTimeoutSec)*time.Second, log)
	if err != nil {
		log.Fatal("failed to initialize provisioner", zap.Error(err))
	}

	sessions := session.New()

	// The permission handler is not known until the Orchestrator and the
	// command surface Server both exist; install a nil handler for now and
	// set the real one once they're constructed.
	agents := agentmanager.New(sessions, prov, repo, evt, log, nil)

	orch := orchestrator.New(repo, agents, evt, log, cfg.Provisioner.HomeDir)

	chatTools := chatbridge.New(prov, repo, agents, sessions, evt, log)

	sched := scheduler.New(repo, orch, log)

	deps := commandsurface.Deps{
		Store:       repo,
		Agents:      agents,
		Sessions:    sessions,
		Orch:        orch,
		ChatTools:   chatTools,
		Discovery:   discovery,
		Registry:    registry,
		Provisioner: prov,
		Bus:         evt,
	}
	server := commandsurface.NewServer(deps, log)

	agents.SetPermissionHandler(server.PermissionHandler)

	sched.Start(ctx)
	defer sched.Stop()

	startConfiguredChatTools(ctx, repo, chatTools, log)
	defer chatTools.StopAll()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("command surface listening", zap.String("addr", addr))
		serverErrCh <- server.Run(ctx, addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutdown signal received")
	case err := <-serverErrCh:
		if err != nil {
			log.Error("command surface exited", zap.Error(err))
		}
	}

	cancel()
	log.Info("agent runtime core stopped")
}

// ensureDefaultWorkspace guarantees at least one Workspace row exists, the
// way a freshly installed desktop app has nothing to orchestrate against
// otherwise.
func ensureDefaultWorkspace(ctx context.Context, repo *store.Repository, defaultDir string) error {
	workspaces, err := repo.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	if len(workspaces) > 0 {
		return nil
	}

	now := time.Now()
	return repo.CreateWorkspace(ctx, &store.Workspace{
		ID:         "default",
		Name:       "Default",
		WorkingDir: defaultDir,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// startConfiguredChatTools restarts every Chat Tool's bridge subprocess
// across every workspace at boot, so a configured tool resumes without the
// GUI needing to re-issue start_chat_tool after a restart.
func startConfiguredChatTools(ctx context.Context, repo *store.Repository, mgr *chatbridge.Manager, log *logger.Logger) {
	workspaces, err := repo.ListWorkspaces(ctx)
	if err != nil {
		log.Error("failed to list workspaces for chat tool startup", zap.Error(err))
		return
	}

	for _, ws := range workspaces {
		tools, err := repo.ListChatTools(ctx, ws.ID)
		if err != nil {
			log.Error("failed to list chat tools", zap.String("workspace_id", ws.ID), zap.Error(err))
			continue
		}
		for _, tool := range tools {
			if err := mgr.StartTool(ctx, tool.ID); err != nil {
				log.Error("failed to start chat tool", zap.String("chat_tool_id", tool.ID), zap.Error(err))
			}
		}
	}
}
