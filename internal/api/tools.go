package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/connector-hub/connector-hub/internal/catalog"
)

// ToolComposer builds the function-tool catalog for a caller.
type ToolComposer interface {
	ComposeCSV(ctx context.Context, organizationID, workflowUserID, toolTypesCSV string) ([]catalog.FunctionTool, error)
}

// ToolHandlers serves the agent-facing tool catalog.
type ToolHandlers struct {
	composer ToolComposer
}

// NewToolHandlers creates a new ToolHandlers instance
func NewToolHandlers(composer ToolComposer) *ToolHandlers {
	return &ToolHandlers{composer: composer}
}

// ListToolsHandler returns the tools available to an organisation, optionally
// narrowed to a workflow user and a comma-separated list of provider types.
// GET /api/v1/organizations/:orgId/tools?workflow_user_id=...&tool_types=jira,system
func (h *ToolHandlers) ListToolsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.Param("orgId")
		tools, err := h.composer.ComposeCSV(c.Request.Context(), orgID, c.Query("workflow_user_id"), c.Query("tool_types"))
		if err != nil {
			slog.Error("failed to compose tools", "organization_id", orgID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to compose tools",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"tools": tools,
			"count": len(tools),
		})
	}
}
