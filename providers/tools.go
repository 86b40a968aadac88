package providers

import (
	"context"
	"fmt"
)

// ToolDefinition describes an operator tool exposed by the provider.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(input map[string]any) (any, error)
}

// Tools returns the tool definitions contributed by the socket client.
func (p *SocketClientProvider) Tools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "socket_status",
			Description: "Show the socket connection state",
			InputSchema: map[string]any{},
			Handler:     p.toolStatus,
		},
		{
			Name:        "socket_send",
			Description: "Send a typed message over the socket connection",
			InputSchema: map[string]any{
				"type": map[string]any{"type": "string", "description": "Message type"},
				"data": map[string]any{"type": "object", "description": "Message data"},
			},
			Handler: p.toolSend,
		},
		{
			Name:        "socket_reconnect",
			Description: "Close the socket connection and open a new one",
			InputSchema: map[string]any{},
			Handler:     p.toolReconnect,
		},
	}
}

func (p *SocketClientProvider) findTool(name string) (ToolDefinition, bool) {
	for _, t := range p.Tools() {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDefinition{}, false
}

func (p *SocketClientProvider) toolStatus(_ map[string]any) (any, error) {
	if p.service == nil {
		return nil, ErrNotActive
	}
	return p.service.Status(), nil
}

func (p *SocketClientProvider) toolSend(input map[string]any) (any, error) {
	if p.service == nil {
		return nil, ErrNotActive
	}
	msgType, _ := input["type"].(string)
	if msgType == "" {
		return nil, fmt.Errorf("type is required")
	}
	data, _ := input["data"].(map[string]any)
	if data == nil {
		data = map[string]any{}
	}
	if err := p.service.Publish(msgType, data); err != nil {
		return nil, err
	}
	return map[string]any{"sent": true, "type": msgType}, nil
}

func (p *SocketClientProvider) toolReconnect(_ map[string]any) (any, error) {
	if p.service == nil {
		return nil, ErrNotActive
	}
	if err := p.service.Start(context.Background()); err != nil {
		return nil, err
	}
	return map[string]any{"connected": p.service.Status().Connected}, nil
}
