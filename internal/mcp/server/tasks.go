// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcp-tasks/core/pkg/tasks"
)

// metaTaskIDKey is the key a tools/call's arguments carry its continuation
// task under, nested inside a "_meta" sub-object. The pinned mcp-go
// release this server targets surfaces Arguments only as interface{},
// with no typed passthrough for arbitrary request-level meta fields
// beyond the progress token, so continuation threading rides inside the
// arguments payload itself rather than a dedicated SDK field.
const metaTaskIDKey = "_meta"

// ToolHandlerFunc is the handler shape every mcp-go tool is registered
// with.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// WrapToolHandler installs the single tools/call interception point: if
// router is configured, the tool requires a task, and the call carries no
// continuation task id, the call is routed through the task store instead
// of being executed inline. Otherwise the wrapped handler runs normally,
// and any continuation task named in the call's arguments is advanced
// fire-and-forget with the handler's result or error. A top-level task
// field on the request is not consulted.
func WrapToolHandler(router *tasks.TaskRouter, toolName string, logger *slog.Logger, handler ToolHandlerFunc) ToolHandlerFunc {
	if router == nil {
		return handler
	}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]interface{})
		owner := tasks.ResolveOwner(tasks.IdentityFromContext(ctx))

		existingTaskID := extractTaskID(args)

		if existingTaskID == "" && router.ToolRequiresTask(toolName) {
			logger.Debug("routing tool call through task store", "tool", toolName, "owner", owner)
			return createToolTask(ctx, router, toolName, args, request, owner)
		}

		result, err := handler(ctx, request)

		if existingTaskID != "" {
			go router.HandleWorkflowContinuation(context.WithoutCancel(ctx), existingTaskID, owner, toolName, toolResultValue(result, err))
		}

		return result, err
	}
}

func createToolTask(ctx context.Context, router *tasks.TaskRouter, toolName string, args map[string]interface{}, request mcp.CallToolRequest, owner string) (*mcp.CallToolResult, error) {
	ttlHint := extractTTLHint(args)
	var progressToken string
	if request.Params.Meta != nil && request.Params.Meta.ProgressToken != nil {
		if s, ok := request.Params.Meta.ProgressToken.(string); ok {
			progressToken = s
		}
	}

	created, err := router.HandleTaskCall(ctx, toolName, args, ttlHint, progressToken, owner)
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(taskCreationMessage(created))},
	}, nil
}

// taskCreationMessage renders a short human-readable confirmation; the
// machine-readable task data lives in the CreateTaskResult a transport-
// level task-aware client reads separately, not in this text content.
func taskCreationMessage(created tasks.CreateTaskResult) string {
	return "task " + created.Task.TaskID + " created, status=" + string(created.Task.Status)
}

// extractTaskID reads the continuation task id nested at
// args["_meta"]["_task_id"], returning "" if absent at any level.
func extractTaskID(args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	meta, ok := args[metaTaskIDKey].(map[string]interface{})
	if !ok {
		return ""
	}
	taskID, _ := meta[tasks.TaskIDMetaKey].(string)
	return taskID
}

// extractTTLHint reads an optional TTL (milliseconds) nested at
// args["_meta"]["ttl"], returning 0 (the store's default) when absent.
func extractTTLHint(args map[string]interface{}) time.Duration {
	if args == nil {
		return 0
	}
	meta, ok := args[metaTaskIDKey].(map[string]interface{})
	if !ok {
		return 0
	}
	ms, ok := meta["ttl"].(float64)
	if !ok {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

// toolResultValue reduces a tool's return into the plain value the
// workflow continuation layer records. An error result is recorded as a
// map holding the error message under "error", so continuation
// bookkeeping never needs to know about
// *mcp.CallToolResult's shape.
func toolResultValue(result *mcp.CallToolResult, err error) any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if result == nil {
		return nil
	}
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, tc.Text)
		}
	}
	return map[string]any{"content": texts, "isError": result.IsError}
}

// rpcErrorTasksNotEnabled is returned by the four direct task routes when
// no TaskRouter is configured.
type rpcErrorTasksNotEnabled struct{}

func (rpcErrorTasksNotEnabled) Error() string { return "tasks not enabled" }

func (rpcErrorTasksNotEnabled) Code() int { return tasks.RPCCodeTasksNotEnabled }

// HandleTasksGet implements the tasks/get direct route.
func (s *Server) HandleTasksGet(ctx context.Context, taskID, owner string) (tasks.GetTaskResult, error) {
	if s.taskRouter == nil {
		return tasks.Task{}, rpcErrorTasksNotEnabled{}
	}
	return s.taskRouter.HandleTasksGet(ctx, taskID, owner)
}

// HandleTasksResult implements the tasks/result direct route.
func (s *Server) HandleTasksResult(ctx context.Context, taskID, owner string) (map[string]any, error) {
	if s.taskRouter == nil {
		return nil, rpcErrorTasksNotEnabled{}
	}
	return s.taskRouter.HandleTasksResult(ctx, taskID, owner)
}

// HandleTasksList implements the tasks/list direct route.
func (s *Server) HandleTasksList(ctx context.Context, owner, cursor string, limit int) (tasks.ListTasksResult, error) {
	if s.taskRouter == nil {
		return tasks.ListTasksResult{}, rpcErrorTasksNotEnabled{}
	}
	return s.taskRouter.HandleTasksList(ctx, owner, cursor, limit)
}

// HandleTasksCancel implements the tasks/cancel direct route. A non-nil
// result completes the task instead of cancelling it.
func (s *Server) HandleTasksCancel(ctx context.Context, taskID, owner string, result any) (tasks.CancelTaskResult, error) {
	if s.taskRouter == nil {
		return tasks.Task{}, rpcErrorTasksNotEnabled{}
	}
	return s.taskRouter.HandleTasksCancel(ctx, taskID, owner, result)
}

// tasksCapability returns the experimental capability descriptor entry a
// server advertises when task support is enabled, or nil otherwise.
func (s *Server) tasksCapability() map[string]any {
	if s.taskRouter == nil {
		return nil
	}
	return map[string]any{"tasks": map[string]any{}}
}
