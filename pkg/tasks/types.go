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

package tasks

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusWorking       Status = "working"
	StatusInputRequired Status = "inputRequired"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// validStatuses enumerates the finite status set for Valid().
var validStatuses = map[Status]bool{
	StatusWorking:       true,
	StatusInputRequired: true,
	StatusCompleted:     true,
	StatusFailed:        true,
	StatusCancelled:     true,
}

// Valid reports whether s is one of the five recognized statuses.
func (s Status) Valid() bool {
	return validStatuses[s]
}

// IsTerminal reports whether s is one of the absorbing states. Terminal
// statuses never transition to anything else.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// validTransitions is the full state machine: Working and InputRequired are
// the only non-terminal states, terminals transition to nothing, and no
// status transitions to itself.
var validTransitions = map[Status]map[Status]bool{
	StatusWorking: {
		StatusInputRequired: true,
		StatusCompleted:     true,
		StatusFailed:        true,
		StatusCancelled:     true,
	},
	StatusInputRequired: {
		StatusWorking:   true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
}

// ValidateTransition reports whether moving from `from` to `to` is allowed.
func ValidateTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Task is the wire form returned to MCP clients. Field names are
// camelCase; any field beginning with "_" is a reserved meta key and is
// never camelCased.
type Task struct {
	TaskID        string         `json:"taskId"`
	Status        Status         `json:"status"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	LastUpdatedAt time.Time      `json:"lastUpdatedAt"`
	CreatedMethod string         `json:"createdMethod"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	Meta          map[string]any `json:"_meta,omitempty"`
}

// TaskRecord is the stored form: a Task plus the fields that never cross
// the wire directly (owner, variables, result, originating method). The
// storage version counter lives alongside the record's bytes in the
// backend and is never part of this struct.
type TaskRecord struct {
	Task
	OwnerID       string         `json:"ownerId"`
	Variables     map[string]any `json:"variables"`
	Result        any            `json:"result,omitempty"`
	RequestMethod string         `json:"requestMethod"`
}

// CreateTaskResult is the response to a task-creating tools/call.
type CreateTaskResult struct {
	Task Task           `json:"task"`
	Meta map[string]any `json:"_meta,omitempty"`
}

// GetTaskResult is the response to tasks/get.
type GetTaskResult = Task

// CancelTaskResult is the response to tasks/cancel.
type CancelTaskResult = Task

// ListTasksResult is the response to tasks/list.
type ListTasksResult struct {
	Tasks      []Task `json:"tasks"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// Protocol method names, single-sourced so the router and any transport
// glue agree on spelling.
const (
	MethodTasksGet    = "tasks/get"
	MethodTasksResult = "tasks/result"
	MethodTasksList   = "tasks/list"
	MethodTasksCancel = "tasks/cancel"
)

// Reserved meta keys. These are preserved verbatim on the wire (never
// camelCased) because they begin with an underscore.
const (
	MetaKey            = "_meta"
	TaskIDMetaKey      = "_task_id"
	RelatedTaskMetaKey = "io.modelcontextprotocol/related-task"
)

// Reserved task-variable keys used by the workflow continuation layer.
const (
	VarWorkflowProgress     = "_workflow.progress"
	VarWorkflowResultPrefix = "_workflow.result."
	VarWorkflowExtraPrefix  = "_workflow.extra."
	VarWorkflowPauseReason  = "_workflow.pause_reason"
)

// TaskSupport describes a tool's execution metadata, carried on ToolInfo in
// the embedding server's tool registry.
type TaskSupport string

const TaskSupportRequired TaskSupport = "required"

// ToolExecution is the optional `execution` object on a tool's registered
// metadata.
type ToolExecution struct {
	TaskSupport TaskSupport `json:"taskSupport,omitempty"`
}
