package chatbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/agentmanager"
	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

// Manager owns one Driver per started Chat Tool, mirroring agentmanager's
// process-map pattern for the bridge side.
type Manager struct {
	mu      sync.Mutex
	drivers map[string]*Driver

	prov   *provisioner.Provisioner
	store  *store.Repository
	agents *agentmanager.Manager
	sess   *session.Registry
	bus    bus.EventBus
	log    *logger.Logger
}

// New constructs a chat-bridge Manager. Bridge subprocess commands are
// resolved through the same provisioner registry used for agents, keyed by
// the chat tool's plugin_type.
func New(prov *provisioner.Provisioner, repo *store.Repository, agents *agentmanager.Manager, sess *session.Registry, evt bus.EventBus, log *logger.Logger) *Manager {
	return &Manager{
		drivers: make(map[string]*Driver),
		prov:    prov,
		store:   repo,
		agents:  agents,
		sess:    sess,
		bus:     evt,
		log:     log,
	}
}

func (m *Manager) resolve(ctx context.Context) BridgeCommand {
	return func(pluginType string) (string, []string, error) {
		inv, err := m.prov.Resolve(ctx, pluginType)
		if err != nil {
			return "", nil, err
		}
		return inv.Command, inv.Args, nil
	}
}

// StartTool starts (or restarts, if already running) the bridge for
// toolID.
func (m *Manager) StartTool(ctx context.Context, toolID string) error {
	tool, err := m.store.GetChatTool(ctx, toolID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if existing, ok := m.drivers[toolID]; ok {
		m.mu.Unlock()
		_ = existing.Stop()
		m.mu.Lock()
		delete(m.drivers, toolID)
	}
	m.mu.Unlock()

	driver := New(*tool, m.resolve(context.Background()), m.store, m.agents, m.sess, m.bus, m.log)
	if err := driver.Start(ctx); err != nil {
		return apperr.Wrap(apperr.KindAgentNotRunning, fmt.Sprintf("starting chat tool %s", tool.Name), err)
	}

	m.mu.Lock()
	m.drivers[toolID] = driver
	m.mu.Unlock()
	return nil
}

// StopTool stops toolID's bridge, if running.
func (m *Manager) StopTool(toolID string) error {
	m.mu.Lock()
	driver, ok := m.drivers[toolID]
	if ok {
		delete(m.drivers, toolID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return driver.Stop()
}

// LogoutTool sends a logout command to toolID's bridge and stops it.
func (m *Manager) LogoutTool(ctx context.Context, toolID string) error {
	m.mu.Lock()
	driver, ok := m.drivers[toolID]
	m.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("chat tool %s is not running", toolID))
	}

	driver.mu.Lock()
	c := driver.conn
	driver.mu.Unlock()
	if c != nil {
		_ = c.send(Command{Type: "logout"})
	}
	return m.StopTool(toolID)
}

// SendMessage forwards a host-initiated message to toolID's bridge (used by
// the command surface's send_chat_tool_message request).
func (m *Manager) SendMessage(toolID, recipientID, content string) error {
	m.mu.Lock()
	driver, ok := m.drivers[toolID]
	m.mu.Unlock()
	if !ok {
		return apperr.NotFound(fmt.Sprintf("chat tool %s is not running", toolID))
	}

	driver.mu.Lock()
	c := driver.conn
	driver.mu.Unlock()
	if c == nil {
		return apperr.New(apperr.KindAgentNotRunning, "chat tool bridge has no active connection")
	}
	return c.send(Command{Type: "send_message", RecipientID: recipientID, Content: content})
}

// StopAll stops every running bridge, for graceful shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		drivers = append(drivers, d)
	}
	m.drivers = make(map[string]*Driver)
	m.mu.Unlock()

	for _, d := range drivers {
		_ = d.Stop()
	}
}
