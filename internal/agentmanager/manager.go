// Package agentmanager owns the process map shared resource: for every
// configured Agent it lazily spawns the underlying subprocess, wraps its
// stdio in a Transport, and hands back an initialized ACP Client, reusing
// both across calls until the agent is explicitly stopped.
package agentmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/infiniact/agent-hub-sub000/internal/acp/client"
	"github.com/infiniact/agent-hub-sub000/internal/acp/session"
	"github.com/infiniact/agent-hub-sub000/internal/acp/transport"
	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	"github.com/infiniact/agent-hub-sub000/internal/common/logger"
	"github.com/infiniact/agent-hub-sub000/internal/events/bus"
	"github.com/infiniact/agent-hub-sub000/internal/process"
	"github.com/infiniact/agent-hub-sub000/internal/provisioner"
	"github.com/infiniact/agent-hub-sub000/internal/store"
	"go.uber.org/zap"
)

// runtimeAgent bundles a live subprocess with its ACP client.
type runtimeAgent struct {
	proc   *process.Process
	client *client.Client
}

// Manager is the process map: one entry per agent id, guarded by a single
// mutex per the "process map is behind an async mutex, never held across a
// mailbox receive" design. The mutex here only ever guards the map itself;
// once a runtimeAgent is handed out, callers talk to its Client directly.
type Manager struct {
	mu      sync.Mutex
	agents  map[string]*runtimeAgent
	sess    *session.Registry
	prov    *provisioner.Provisioner
	store   *store.Repository
	bus     bus.EventBus
	log     *logger.Logger
	permHdl client.PermissionHandler
}

// New constructs a Manager. permHdl, if non-nil, is installed on every Client
// to answer session/requestPermission.
func New(sess *session.Registry, prov *provisioner.Provisioner, repo *store.Repository, evt bus.EventBus, log *logger.Logger, permHdl client.PermissionHandler) *Manager {
	return &Manager{
		agents:  make(map[string]*runtimeAgent),
		sess:    sess,
		prov:    prov,
		store:   repo,
		bus:     evt,
		log:     log,
		permHdl: permHdl,
	}
}

// SetPermissionHandler installs (or replaces) the handler used for every
// subsequently-spawned agent's session/requestPermission. Wiring code that
// needs a handler bound to a component constructed after the Manager (e.g.
// the Orchestrator) calls this once during startup.
func (m *Manager) SetPermissionHandler(h client.PermissionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permHdl = h
}

// EnsureRunning implements the "ensure-running" path shared by the
// Orchestrator and the Chat-Bridge Driver: spawn the agent's subprocess and
// run the ACP initialize handshake if it is not already up, otherwise reuse
// the existing Client.
func (m *Manager) EnsureRunning(ctx context.Context, agent store.Agent, workingDir string) (*client.Client, error) {
	m.mu.Lock()
	if existing, ok := m.agents[agent.ID]; ok && existing.proc.Status() == process.StatusRunning {
		m.mu.Unlock()
		return existing.client, nil
	}
	m.mu.Unlock()

	invocation, err := m.prov.Resolve(ctx, agent.ID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindACP, fmt.Sprintf("resolving agent %s", agent.ID), err)
	}

	proc, err := process.Spawn(process.Spec{
		Command: invocation.Command,
		Args:    invocation.Args,
		Dir:     workingDir,
		Env:     invocation.Env,
	}, m.log)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindAgentNotRunning, fmt.Sprintf("spawning agent %s", agent.ID), err)
	}

	t := transport.New(proc.Stdin, proc.Stdout, m.log.With(zap.String("agent_id", agent.ID)))
	c := client.New(t, m.sess, m.log,
		client.WithEventBus(m.bus),
		client.WithPermissionHandler(m.permHdl),
		client.WithWorkspaceRoot(workingDir),
		client.WithAgentID(agent.ID))

	if _, err := c.Initialize(ctx); err != nil {
		_ = proc.Stop()
		return nil, apperr.Wrap(apperr.KindACP, fmt.Sprintf("initializing agent %s", agent.ID), err)
	}

	m.mu.Lock()
	m.agents[agent.ID] = &runtimeAgent{proc: proc, client: c}
	m.mu.Unlock()

	return c, nil
}

// Stop issues a best-effort session/end for every session agentID still owns,
// then terminates its subprocess (if running) and clears its session registry
// entries and process map slot.
func (m *Manager) Stop(agentID string) error {
	m.mu.Lock()
	existing, ok := m.agents[agentID]
	if ok {
		delete(m.agents, agentID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	ctx := context.Background()
	for _, protocolID := range m.sess.ProtocolSessionIDsForAgent(agentID) {
		existing.client.End(ctx, protocolID)
	}

	m.sess.RemoveForAgent(agentID)
	return existing.proc.Stop()
}

// Status reports the current process status for agentID, or
// process.StatusStopped if it has no live entry.
func (m *Manager) Status(agentID string) process.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.agents[agentID]
	if !ok {
		return process.StatusStopped
	}
	return existing.proc.Status()
}

// Client returns agentID's live Client, if any.
func (m *Manager) Client(agentID string) (*client.Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.agents[agentID]
	if !ok {
		return nil, false
	}
	return existing.client, true
}

// GetModels ensures agentID is running, opens (or reuses) its reserved
// "temp" session slot via session/new, and returns the model list surfaced
// in the result. The caller is responsible for persisting it onto the Agent
// row.
func (m *Manager) GetModels(ctx context.Context, agent store.Agent, workingDir string) ([]string, error) {
	c, err := m.EnsureRunning(ctx, agent, workingDir)
	if err != nil {
		return nil, err
	}

	tempKey := session.TempKey(agent.ID)
	if info, ok := m.sess.Get(tempKey); ok && info.IsUsable() {
		// A session already exists for cheap model discovery; it carries no
		// cached model list of its own, so fall through and ask again.
		_ = info
	}

	result, err := c.SessionNew(ctx, workingDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindACP, "requesting available models", err)
	}

	if _, ok := m.sess.Get(tempKey); !ok {
		m.sess.Create(tempKey, agent.ID)
	}
	m.sess.SetProtocolSessionID(tempKey, result.SessionID)
	m.sess.MarkActive(tempKey)

	return result.AvailableModels, nil
}
