// Package mcp exposes the feature state manager as MCP tools so coding
// agents can inspect and advance feature state over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ldi/conveyor/internal/state"
	"github.com/ldi/conveyor/internal/store"
	"github.com/ldi/conveyor/pkg/models"
)

// NewServer creates a new MCP server over the given project's features.
func NewServer(manager *state.Manager, projectPath string) *server.MCPServer {
	s := server.NewMCPServer("Conveyor", "0.1.0")

	s.AddTool(mcp.NewTool("get_feature",
		mcp.WithDescription("Get a feature record by id, including its status, plan and accumulated summary."),
		mcp.WithString("feature_id", mcp.Description("Feature id"), mcp.Required()),
	), getFeatureHandler(manager, projectPath))

	s.AddTool(mcp.NewTool("list_features",
		mcp.WithDescription("List every feature id in the project."),
	), listFeaturesHandler(projectPath))

	s.AddTool(mcp.NewTool("update_feature_status",
		mcp.WithDescription("Move a feature to a new lifecycle status. Pipeline steps use pipeline_<step_id>."),
		mcp.WithString("feature_id", mcp.Description("Feature id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status"), mcp.Required()),
	), updateStatusHandler(manager, projectPath))

	s.AddTool(mcp.NewTool("save_step_summary",
		mcp.WithDescription("Record the summary of the step the feature is currently on. Accumulates per-step sections for pipeline features."),
		mcp.WithString("feature_id", mcp.Description("Feature id"), mcp.Required()),
		mcp.WithString("summary", mcp.Description("Summary text"), mcp.Required()),
	), saveSummaryHandler(manager, projectPath))

	s.AddTool(mcp.NewTool("update_task_status",
		mcp.WithDescription("Update one plan task's status."),
		mcp.WithString("feature_id", mcp.Description("Feature id"), mcp.Required()),
		mcp.WithString("task_id", mcp.Description("Task id"), mcp.Required()),
		mcp.WithString("status", mcp.Description("New status (pending|in_progress|completed)"), mcp.Required()),
		mcp.WithString("summary", mcp.Description("Completion summary")),
	), updateTaskStatusHandler(manager, projectPath))

	s.AddTool(mcp.NewTool("update_plan_spec",
		mcp.WithDescription("Update the feature's plan spec. Content changes bump the plan version."),
		mcp.WithString("feature_id", mcp.Description("Feature id"), mcp.Required()),
		mcp.WithString("content", mcp.Description("New plan content")),
		mcp.WithString("status", mcp.Description("New plan status (pending|generating|approved)")),
	), updatePlanSpecHandler(manager, projectPath))

	s.AddTool(mcp.NewTool("reconcile_features",
		mcp.WithDescription("Reset features stuck in a running state after an abnormal restart."),
	), reconcileHandler(manager, projectPath))

	return s
}

// Serve starts the MCP server on stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func getFeatureHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "feature_id", "")
		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", id)), nil
		}
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func listFeaturesHandler(projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids, err := store.ListFeatureIDs(projectPath)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		data, _ := json.Marshal(ids)
		return mcp.NewToolResultText(string(data)), nil
	}
}

func updateStatusHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "feature_id", "")
		status := mcp.ParseString(request, "status", "")
		if status == "" {
			return mcp.NewToolResultError("status is required"), nil
		}
		if !models.Status(status).IsValid() {
			return mcp.NewToolResultError(fmt.Sprintf("'%s' is not a valid status", status)), nil
		}

		manager.UpdateStatus(ctx, projectPath, id, models.Status(status))

		// Mutations are silent on failure; the re-read is the verdict.
		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Feature '%s' status is now '%s'", id, f.Status)), nil
	}
}

func saveSummaryHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "feature_id", "")
		summary := mcp.ParseString(request, "summary", "")

		manager.SaveStepSummary(ctx, projectPath, id, summary)

		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", id)), nil
		}
		return mcp.NewToolResultText(f.Summary), nil
	}
}

func updateTaskStatusHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "feature_id", "")
		taskID := mcp.ParseString(request, "task_id", "")
		status := mcp.ParseString(request, "status", "")

		var summary *string
		if s := mcp.ParseString(request, "summary", ""); s != "" {
			summary = &s
		}

		manager.UpdateTaskStatus(ctx, projectPath, id, taskID, models.TaskStatus(status), summary)

		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil || f.PlanSpec == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' has no plan", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%d/%d tasks completed", f.PlanSpec.TasksCompleted, len(f.PlanSpec.Tasks))), nil
	}
}

func updatePlanSpecHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := mcp.ParseString(request, "feature_id", "")

		var update state.PlanSpecUpdate
		if c := mcp.ParseString(request, "content", ""); c != "" {
			update.Content = &c
		}
		if s := mcp.ParseString(request, "status", ""); s != "" {
			status := models.PlanStatus(s)
			update.Status = &status
		}

		manager.UpdatePlanSpec(ctx, projectPath, id, update)

		f := manager.LoadFeature(ctx, projectPath, id)
		if f == nil || f.PlanSpec == nil {
			return mcp.NewToolResultError(fmt.Sprintf("Feature '%s' not found", id)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Plan spec at version %d, status %s", f.PlanSpec.Version, f.PlanSpec.Status)), nil
	}
}

func reconcileHandler(manager *state.Manager, projectPath string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		count := manager.ReconcileStuck(ctx, projectPath)
		return mcp.NewToolResultText(fmt.Sprintf("Reconciled %d feature(s)", count)), nil
	}
}
