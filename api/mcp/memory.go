package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/periodlog"
)

// DefaultActor is stamped on mutations made through MCP when Config.Actor is
// empty.
const DefaultActor = "mcp"

var (
	appendToolName    = "memory_append"
	appendDescription = "Append one message to the durable conversation log. Use this to record a user, assistant or system turn so it becomes part of future context windows."

	loadContextToolName    = "memory_load_context"
	loadContextDescription = "Load the newest conversation history that fits a token budget, oldest message first. Omit budget and reserve to use the configured defaults. At least one message is returned whenever any history exists."

	getFactsToolName    = "memory_get_facts"
	getFactsDescription = "Return the fact memory document: stable core facts grouped by category and recent provisional diff facts. Set include_archived to also see core facts that were pruned but survive in the audit trail."

	mutateFactsToolName    = "memory_mutate_facts"
	mutateFactsDescription = "Change the fact memory. Actions: add_diff {content, confidence?, source?, category?}, promote_to_core {diff_id, category}, prune_stale {days_threshold?}, touch {ids}, seed_core {content, category, source?}, run_curation {}. Failures are reported with a kind; lock_contention may be retried."
)

// AppendInput represents the input arguments for the memory_append tool.
type AppendInput struct {
	Role      string          `json:"role" jsonschema:"the author of the message: user, assistant or system"`
	Content   string          `json:"content,omitempty" jsonschema:"the message text, may be empty when tool_calls are given"`
	Model     string          `json:"model,omitempty" jsonschema:"the model that produced an assistant message"`
	ToolCalls []ToolCallInput `json:"tool_calls,omitempty" jsonschema:"tool invocations made by an assistant message"`
	Metadata  map[string]any  `json:"metadata,omitempty" jsonschema:"free-form attributes stored with the message"`
}

// ToolCallInput is one tool invocation recorded with a message.
type ToolCallInput struct {
	ID        string         `json:"id,omitempty" jsonschema:"the provider's id for the call"`
	Name      string         `json:"name" jsonschema:"the tool name"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"the arguments the tool was called with"`
}

func (in AppendInput) toolCalls() ([]periodlog.ToolCall, error) {
	if len(in.ToolCalls) == 0 {
		return nil, nil
	}
	calls := make([]periodlog.ToolCall, 0, len(in.ToolCalls))
	for _, tc := range in.ToolCalls {
		call := periodlog.ToolCall{ID: tc.ID, Name: tc.Name}
		if tc.Arguments != nil {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encoding arguments of %s: %w", tc.Name, err)
			}
			call.Arguments = args
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// LoadContextInput represents the input arguments for the memory_load_context tool.
type LoadContextInput struct {
	Budget  int  `json:"budget,omitempty" jsonschema:"total token budget, defaults to the configured budget"`
	Reserve *int `json:"reserve,omitempty" jsonschema:"tokens withheld for system prompt and tools, defaults to the configured reserve"`
}

// GetFactsInput represents the input arguments for the memory_get_facts tool.
type GetFactsInput struct {
	IncludeArchived bool `json:"include_archived,omitempty" jsonschema:"also return pruned core facts found in the audit trail"`
}

// MutateFactsInput represents the input arguments for the memory_mutate_facts tool.
type MutateFactsInput struct {
	Action  string         `json:"action" jsonschema:"one of add_diff, promote_to_core, prune_stale, touch, seed_core, run_curation"`
	Payload map[string]any `json:"payload,omitempty" jsonschema:"the action arguments"`
}

func (s *Server) actorContext(ctx context.Context) context.Context {
	actor := s.config.Actor
	if actor == "" {
		actor = DefaultActor
	}
	return memory.WithActor(ctx, actor)
}

// handleAppend records a message.
func (s *Server) handleAppend(ctx context.Context, _ *mcp.CallToolRequest, input AppendInput) (*mcp.CallToolResult, any, error) {
	calls, err := input.toolCalls()
	if err != nil {
		return toolError("Append failed: %v", err)
	}

	msg, err := s.config.Memory.Append(ctx, memory.AppendRequest{
		Role:      periodlog.Role(input.Role),
		Content:   input.Content,
		Model:     input.Model,
		ToolCalls: calls,
		Metadata:  input.Metadata,
	})
	if err != nil {
		return toolError("Append failed: %v", err)
	}
	return toolJSON(msg, false)
}

// handleLoadContext assembles a context window.
func (s *Server) handleLoadContext(ctx context.Context, _ *mcp.CallToolRequest, input LoadContextInput) (*mcp.CallToolResult, any, error) {
	if input.Budget < 0 {
		return toolError("budget must not be negative")
	}
	if input.Reserve != nil && *input.Reserve < 0 {
		return toolError("reserve must not be negative")
	}

	w := s.config.Memory.LoadContext(ctx, memory.ContextRequest{
		Budget:  input.Budget,
		Reserve: input.Reserve,
	})
	return toolJSON(w, false)
}

// handleGetFacts returns the fact document.
func (s *Server) handleGetFacts(ctx context.Context, _ *mcp.CallToolRequest, input GetFactsInput) (*mcp.CallToolResult, any, error) {
	view, err := s.config.Memory.GetFacts(ctx, input.IncludeArchived)
	if err != nil {
		s.logger.Error("loading facts", "error", err)
		return toolError("Loading facts failed: %v", err)
	}
	return toolJSON(view, false)
}

// handleMutateFacts applies one mutation.
func (s *Server) handleMutateFacts(ctx context.Context, _ *mcp.CallToolRequest, input MutateFactsInput) (*mcp.CallToolResult, any, error) {
	if input.Action == "" {
		return toolError("action is required")
	}

	var payload json.RawMessage
	if input.Payload != nil {
		b, err := json.Marshal(input.Payload)
		if err != nil {
			return toolError("Invalid payload: %v", err)
		}
		payload = b
	}

	res := s.config.Memory.MutateFacts(s.actorContext(ctx), input.Action, payload)
	return toolJSON(res, !res.Success)
}

func toolError(format string, args ...any) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}, nil, nil
}

// toolJSON returns v as both text and structured content.
func toolJSON(v any, isError bool) (*mcp.CallToolResult, any, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return toolError("Failed to serialize results: %v", err)
	}

	return &mcp.CallToolResult{
		IsError: isError,
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, v, nil
}
