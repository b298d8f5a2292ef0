package gateway

import (
	"context"
	"encoding/json"
)

// Typed wrappers over Request for the gateway RPC surface.

type SpawnSessionParams struct {
	SessionKey string `json:"sessionKey"`
	AgentID    string `json:"agentId,omitempty"`
	Model      string `json:"model,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

func (c *Client) SpawnSession(ctx context.Context, p SpawnSessionParams) (*SessionInfo, error) {
	var out SessionInfo
	if err := c.Request(ctx, "session.spawn", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SendChatParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

func (c *Client) SendChat(ctx context.Context, sessionKey, message string) error {
	return c.Request(ctx, "chat.send", SendChatParams{SessionKey: sessionKey, Message: message}, nil)
}

// AbortChat is best-effort: the upstream agent may still emit a few trailing
// events after this returns.
func (c *Client) AbortChat(ctx context.Context, sessionKey string) error {
	return c.Request(ctx, "chat.abort", map[string]string{"sessionKey": sessionKey}, nil)
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	At      int64  `json:"at,omitempty"`
}

func (c *Client) FetchHistory(ctx context.Context, sessionKey string) ([]HistoryEntry, error) {
	var out struct {
		Messages []HistoryEntry `json:"messages"`
	}
	if err := c.Request(ctx, "session.history", map[string]string{"sessionKey": sessionKey}, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// InjectContext adds out-of-band context (issue text, review feedback) to a
// running session without producing a user-visible message.
func (c *Client) InjectContext(ctx context.Context, sessionKey, content string) error {
	return c.Request(ctx, "session.injectContext", map[string]string{
		"sessionKey": sessionKey,
		"content":    content,
	}, nil)
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.Request(ctx, "session.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var out struct {
		Agents []AgentInfo `json:"agents"`
	}
	if err := c.Request(ctx, "agent.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Agents, nil
}

func (c *Client) CreateAgent(ctx context.Context, a AgentInfo) (*AgentInfo, error) {
	var out AgentInfo
	if err := c.Request(ctx, "agent.create", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAgent(ctx context.Context, a AgentInfo) error {
	return c.Request(ctx, "agent.update", a, nil)
}

func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	return c.Request(ctx, "agent.delete", map[string]string{"agentId": agentID}, nil)
}

func (c *Client) GetAgentFile(ctx context.Context, agentID, path string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	err := c.Request(ctx, "agent.file.get", map[string]string{"agentId": agentID, "path": path}, &out)
	return out.Content, err
}

func (c *Client) SetAgentFile(ctx context.Context, agentID, path, content string) error {
	return c.Request(ctx, "agent.file.set", map[string]string{
		"agentId": agentID,
		"path":    path,
		"content": content,
	}, nil)
}

func (c *Client) GetConfig(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.Request(ctx, "config.get", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PatchConfig(ctx context.Context, patch json.RawMessage) error {
	return c.Request(ctx, "config.patch", patch, nil)
}

func (c *Client) Health(ctx context.Context) error {
	return c.Request(ctx, "health", nil, nil)
}

func (c *Client) ListApprovals(ctx context.Context) ([]ApprovalRequest, error) {
	var out struct {
		Approvals []ApprovalRequest `json:"approvals"`
	}
	if err := c.Request(ctx, "approval.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Approvals, nil
}

func (c *Client) ResolveApproval(ctx context.Context, approvalID string, allow bool) error {
	return c.Request(ctx, "approval.resolve", map[string]any{
		"id":    approvalID,
		"allow": allow,
	}, nil)
}

func (c *Client) ListChannels(ctx context.Context) ([]ChannelInfo, error) {
	var out struct {
		Channels []ChannelInfo `json:"channels"`
	}
	if err := c.Request(ctx, "channel.list", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}
