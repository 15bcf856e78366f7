package commandsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/infiniact/agent-hub-sub000/internal/common/apperr"
	"github.com/infiniact/agent-hub-sub000/internal/store"
)

type handlerFunc func(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error)

// commandTable is the canonical request-name -> handler mapping from §4.I.
var commandTable = map[string]handlerFunc{
	"list_agents":              listAgents,
	"create_agent":             createAgent,
	"update_agent":             updateAgent,
	"delete_agent":             deleteAgent,
	"enable_agent":             enableAgent,
	"set_control_hub":          setControlHub,
	"discover_agents":          discoverAgents,
	"list_registry_agents":     listRegistryAgents,
	"install_registry_agent":   installRegistryAgent,
	"uninstall_registry_agent": uninstallRegistryAgent,
	"ensure_agent_ready":       ensureAgentReady,
	"get_agent_models":         getAgentModels,

	"create_acp_session": createACPSession,
	"resume_acp_session":  resumeACPSession,
	"end_acp_session":     endACPSession,
	"send_prompt":         sendPrompt,
	"cancel_prompt":       cancelPrompt,

	"start_orchestration":      startOrchestration,
	"cancel_orchestration":     cancelOrchestration,
	"confirm_orchestration":    confirmOrchestration,
	"regenerate_agent":         regenerateAgent,
	"respond_orch_permission":  respondOrchPermission,

	"schedule_task":        scheduleTask,
	"pause_scheduled_task": pauseScheduledTask,
	"resume_scheduled_task": resumeScheduledTask,
	"clear_schedule":       clearSchedule,

	"start_chat_tool":        startChatTool,
	"stop_chat_tool":         stopChatTool,
	"logout_chat_tool":       logoutChatTool,
	"send_chat_tool_message": sendChatToolMessage,
	"list_chat_messages":     listChatMessages,
	"list_contacts":          listContacts,
	"set_contact_blocked":    setContactBlocked,
}

func decode(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return apperr.InvalidRequest(fmt.Sprintf("decoding request arguments: %v", err))
	}
	return nil
}

// --- Agents ---

func listAgents(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return deps.Store.ListAgents(ctx, req.WorkspaceID)
}

func createAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var a store.Agent
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	if err := deps.Store.CreateAgent(ctx, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func updateAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var a store.Agent
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now()
	if err := deps.Store.UpdateAgent(ctx, &a); err != nil {
		return nil, err
	}
	return a, nil
}

func deleteAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	_ = deps.Agents.Stop(req.AgentID)
	return nil, deps.Store.DeleteAgent(ctx, req.AgentID)
}

func enableAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		AgentID string `json:"agent_id"`
		Enabled bool   `json:"enabled"`
		Reason  string `json:"reason"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.SetAgentEnabled(ctx, req.AgentID, req.Enabled, req.Reason)
}

func setControlHub(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		AgentID     string `json:"agent_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.SetControlHub(ctx, req.WorkspaceID, req.AgentID)
}

func discoverAgents(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	found, err := deps.Discovery.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if err := deps.Store.ReplaceDiscoveredAgents(ctx, found); err != nil {
		return nil, err
	}
	return found, nil
}

func listRegistryAgents(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	return deps.Registry.All(), nil
}

func installRegistryAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Provisioner.Install(ctx, req.ID)
}

func uninstallRegistryAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Provisioner.Uninstall(req.ID)
}

func ensureAgentReady(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		AgentID      string `json:"agent_id"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}

	agent, err := deps.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	workspace, err := deps.Store.GetWorkspace(ctx, agent.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if req.ForceRefresh {
		_ = deps.Agents.Stop(agent.ID)
	}
	_, err = deps.Agents.EnsureRunning(ctx, *agent, workspace.WorkingDir)
	return nil, err
}

func getAgentModels(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	agent, err := deps.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	workspace, err := deps.Store.GetWorkspace(ctx, agent.WorkspaceID)
	if err != nil {
		return nil, err
	}
	models, err := deps.Agents.GetModels(ctx, *agent, workspace.WorkingDir)
	if err != nil {
		return nil, err
	}
	if err := deps.Store.SetAvailableModels(ctx, agent.ID, models); err != nil {
		return nil, err
	}
	return models, nil
}

// --- Direct ACP sessions ---

func createACPSession(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		AgentID   string `json:"agent_id"`
		SessionID string `json:"session_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	agent, err := deps.Store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	workspace, err := deps.Store.GetWorkspace(ctx, agent.WorkspaceID)
	if err != nil {
		return nil, err
	}
	client, err := deps.Agents.EnsureRunning(ctx, *agent, workspace.WorkingDir)
	if err != nil {
		return nil, err
	}
	protocolID, err := client.EnsureSession(ctx, req.SessionID, agent.ID, workspace.WorkingDir)
	if err != nil {
		return nil, err
	}
	return map[string]string{"session_id": req.SessionID, "protocol_session_id": protocolID}, nil
}

func resumeACPSession(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, ok := deps.Sessions.Get(req.SessionID)
	if !ok {
		return nil, apperr.NotFound("no such session " + req.SessionID)
	}
	client, ok := deps.Agents.Client(info.AgentID)
	if !ok {
		return nil, apperr.New(apperr.KindAgentNotRunning, "owning agent is not running")
	}
	agent, err := deps.Store.GetAgent(ctx, info.AgentID)
	if err != nil {
		return nil, err
	}
	workspace, err := deps.Store.GetWorkspace(ctx, agent.WorkspaceID)
	if err != nil {
		return nil, err
	}
	protocolID, err := client.EnsureSession(ctx, req.SessionID, info.AgentID, workspace.WorkingDir)
	if err != nil {
		return nil, err
	}
	return map[string]string{"session_id": req.SessionID, "protocol_session_id": protocolID}, nil
}

func endACPSession(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, ok := deps.Sessions.Get(req.SessionID)
	if !ok {
		return nil, nil
	}
	if client, ok := deps.Agents.Client(info.AgentID); ok {
		client.End(ctx, info.ProtocolSessionID)
	}
	deps.Sessions.MarkEnded(req.SessionID)
	return nil, nil
}

func sendPrompt(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"session_id"`
		Content   string `json:"content"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, ok := deps.Sessions.Get(req.SessionID)
	if !ok {
		return nil, apperr.NotFound("no such session " + req.SessionID)
	}
	client, ok := deps.Agents.Client(info.AgentID)
	if !ok {
		return nil, apperr.New(apperr.KindAgentNotRunning, "owning agent is not running")
	}
	return client.Prompt(ctx, info.ProtocolSessionID, req.Content, true)
}

func cancelPrompt(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, ok := deps.Sessions.Get(req.SessionID)
	if !ok {
		return nil, apperr.NotFound("no such session " + req.SessionID)
	}
	client, ok := deps.Agents.Client(info.AgentID)
	if !ok {
		return nil, apperr.New(apperr.KindAgentNotRunning, "owning agent is not running")
	}
	return nil, client.Cancel(info.ProtocolSessionID)
}

// respond_permission is special-cased in Server.handleCommand since it needs
// the Server's directPerms router, not a Deps-only handler.

func respondOrchPermission(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID   string `json:"task_run_id"`
		ToolCallID  string `json:"tool_call_id"`
		OptionID    string `json:"option_id"`
		UserMessage string `json:"user_message"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Orch.RespondPermission(req.TaskRunID, req.ToolCallID, req.OptionID, req.UserMessage)
}

// --- Orchestration ---

func startOrchestration(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		WorkspaceID  string `json:"workspace_id"`
		UserPrompt   string `json:"user_prompt"`
		ControlHubID string `json:"control_hub_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return deps.Orch.Start(ctx, req.WorkspaceID, req.UserPrompt, req.ControlHubID)
}

func cancelOrchestration(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Orch.Cancel(req.TaskRunID)
}

func confirmOrchestration(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Orch.Confirm(req.TaskRunID)
}

func regenerateAgent(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Orch.RegenerateAgent(req.TaskRunID, req.AgentID)
}

// --- Scheduling ---

func scheduleTask(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var sched store.Schedule
	if err := decode(args, &sched); err != nil {
		return nil, err
	}
	return nil, deps.Store.UpsertSchedule(ctx, &sched)
}

func pauseScheduledTask(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.SetSchedulePaused(ctx, req.TaskRunID, true)
}

func resumeScheduledTask(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.SetSchedulePaused(ctx, req.TaskRunID, false)
}

func clearSchedule(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		TaskRunID string `json:"task_run_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.ClearSchedule(ctx, req.TaskRunID)
}

// --- Chat tools ---

func startChatTool(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID string `json:"chat_tool_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.ChatTools.StartTool(ctx, req.ChatToolID)
}

func stopChatTool(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID string `json:"chat_tool_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.ChatTools.StopTool(req.ChatToolID)
}

func logoutChatTool(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID string `json:"chat_tool_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.ChatTools.LogoutTool(ctx, req.ChatToolID)
}

func sendChatToolMessage(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID  string `json:"chat_tool_id"`
		RecipientID string `json:"recipient_id"`
		Content     string `json:"content"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.ChatTools.SendMessage(req.ChatToolID, req.RecipientID, req.Content)
}

func listChatMessages(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID string `json:"chat_tool_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return deps.Store.ListUnprocessedMessages(ctx, req.ChatToolID)
}

func listContacts(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID string `json:"chat_tool_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return deps.Store.ListContacts(ctx, req.ChatToolID)
}

func setContactBlocked(ctx context.Context, deps Deps, args json.RawMessage) (interface{}, error) {
	var req struct {
		ChatToolID  string `json:"chat_tool_id"`
		ExternalID  string `json:"external_id"`
		DisplayName string `json:"display_name"`
		Blocked     bool   `json:"blocked"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return nil, deps.Store.UpsertContact(ctx, &store.Contact{
		ChatToolID:  req.ChatToolID,
		ExternalID:  req.ExternalID,
		DisplayName: req.DisplayName,
		Blocked:     req.Blocked,
	})
}
