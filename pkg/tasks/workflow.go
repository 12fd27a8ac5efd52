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

// Package tasks: workflow.go implements the continuation layer on top of
// GenericTaskStore. A workflow is a declared, ordered sequence of steps,
// each naming the tool expected to satisfy it; the router advances that
// sequence as tool calls complete, independent of whatever prompt or agent
// loop is driving the calls.
package tasks

import (
	"encoding/json"
	"log/slog"
)

// StepStatus is one workflow step's lifecycle state.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// WorkflowStep is one declared unit of work within a workflow's plan.
type WorkflowStep struct {
	Name     string     `json:"name"`
	ToolName string     `json:"toolName"`
	Status   StepStatus `json:"status"`
}

// WorkflowProgress is the structured plan attached to a task's variables
// at VarWorkflowProgress. Steps are matched in declaration order.
type WorkflowProgress struct {
	Steps []WorkflowStep `json:"steps"`
}

// Pause reasons recorded at VarWorkflowPauseReason. Cleared on the next
// continuation that successfully matches or records a step.
const (
	PauseReasonArgumentUnresolvable = "argument-unresolvable"
	PauseReasonToolMissing          = "tool-missing"
	PauseReasonToolError            = "tool-error"
	PauseReasonExplicitPause        = "explicit-pause"
)

// MatchStep scans steps in declaration order and returns the index of the
// first step whose status is Pending or Failed and whose ToolName equals
// toolName. Completed steps are never re-matched: a retried call against
// an already-completed step falls through to the caller's "extra" path.
// Returns -1 if no step matches.
func MatchStep(progress WorkflowProgress, toolName string) int {
	for i, step := range progress.Steps {
		if step.Status != StepPending && step.Status != StepFailed {
			continue
		}
		if step.ToolName == toolName {
			return i
		}
	}
	return -1
}

// ApplyContinuation advances progress for a completed call to toolName,
// recording result either against the matched step or, if no step
// matches, under the extra-result key for observability. It returns the
// updated WorkflowProgress and the variable updates that should be
// committed alongside it (the per-step or per-tool result key, plus
// clearing any pause reason).
func ApplyContinuation(progress WorkflowProgress, toolName string, result any) (WorkflowProgress, map[string]any) {
	updates := map[string]any{
		VarWorkflowPauseReason: nil,
	}

	idx := MatchStep(progress, toolName)
	if idx == -1 {
		updates[VarWorkflowExtraPrefix+toolName] = result
		return progress, updates
	}

	progress.Steps[idx].Status = StepCompleted
	updates[VarWorkflowResultPrefix+progress.Steps[idx].Name] = result
	return progress, updates
}

// HandoffMeta builds the `_meta` entry returned alongside a paused
// workflow response: the machine-readable counterpart to the
// conversational message trace.
func HandoffMeta(taskID string, status Status, progress WorkflowProgress) map[string]any {
	return map[string]any{
		"task_id":     taskID,
		"task_status": status,
		"progress":    progress,
	}
}

// decodeWorkflowProgress reads WorkflowProgress out of a task's variables,
// returning a zero-value progress (no steps) if the key is absent or
// unparseable — a task need not be workflow-backed to exist.
func decodeWorkflowProgress(variables map[string]any) WorkflowProgress {
	raw, ok := variables[VarWorkflowProgress]
	if !ok {
		return WorkflowProgress{}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		slog.Warn("workflow: re-encode progress failed", "error", err)
		return WorkflowProgress{}
	}
	var progress WorkflowProgress
	if err := json.Unmarshal(b, &progress); err != nil {
		slog.Warn("workflow: decode progress failed", "error", err)
		return WorkflowProgress{}
	}
	return progress
}
