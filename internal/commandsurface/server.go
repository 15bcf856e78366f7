package commandsurface

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	"github.com/infiniact/agent-hub-sub000/internal/chatbridge"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/orchestrator"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Deps bundles every component the command surface dispatches requests
// against.
type Deps struct {
	Store       *store.Repository
	Agents      *agentmanager.Manager
	Sessions    *session.Registry
	Orch        *orchestrator.Orchestrator
	ChatTools   *chatbridge.Manager
	Discovery   *provisioner.Discovery
	Registry    *provisioner.Registry
	Provisioner *provisioner.Provisioner
	Bus         bus.EventBus
}

// Server hosts the gin HTTP API (commands) and the event-stream WebSocket.
type Server struct {
	deps        Deps
	hub         *Hub
	directPerms *directPermissions
	log         *logger.Logger
	engine      *gin.Engine
	http        *http.Server
}

// NewServer wires the gin engine: POST /api/command for requests, GET
// /api/events for the broadcast WebSocket.
func NewServer(deps Deps, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps:        deps,
		hub:         NewHub(deps.Bus, log),
		directPerms: newDirectPermissions(deps.Bus),
		log:         log.With(zap.String("component", "command_surface")),
		engine:      engine,
	}

	engine.POST("/api/command", s.handleCommand)
	engine.GET("/api/events", s.handleEvents)

	return s
}

// Run starts listening on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("failed to upgrade command surface websocket", zap.Error(err))
		return
	}

	client := newClient(conn, s.hub, s.log)
	s.hub.register(client)

	go client.WritePump()
	go client.ReadPump()
}

type commandRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name == "respond_permission" {
		var permReq struct {
			RequestID   string `json:"request_id"`
			OptionID    string `json:"option_id"`
			UserMessage string `json:"user_message"`
		}
		if err := json.Unmarshal(req.Args, &permReq); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.directPerms.respond(permReq.RequestID, permReq.OptionID, permReq.UserMessage); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": nil})
		return
	}

	handler, ok := commandTable[req.Name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown request: " + req.Name})
		return
	}

	result, err := handler(c.Request.Context(), s.deps, req.Args)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}
