package proxyapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/gateway/ent"
)

// getInteractionHandler handles GET /v1/admin/interactions/:id, returning
// one persisted interaction for operator-facing trace inspection.
func (s *Server) getInteractionHandler(c *echo.Context) error {
	row, err := s.repo.GetInteraction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(httpStatusFor(err), map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, interactionView(row))
}

// listInteractionsHandler handles GET /v1/admin/interactions?chatId=,
// returning a chat's full interaction trace ordered oldest first.
func (s *Server) listInteractionsHandler(c *echo.Context) error {
	chatID := c.QueryParam("chatId")
	rows, err := s.repo.ListInteractionsByChat(c.Request().Context(), chatID)
	if err != nil {
		return c.JSON(httpStatusFor(err), map[string]string{"error": err.Error()})
	}
	views := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		views = append(views, interactionView(row))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"interactions": views})
}

// streamInteractionsHandler handles GET /v1/admin/interactions/stream?chatId=,
// upgrading to a WebSocket that streams newly completed or refused
// interactions for that chat as they happen.
func (s *Server) streamInteractionsHandler(c *echo.Context) error {
	if s.broadcaster == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "live trace streaming is not enabled")
	}
	chatID := c.QueryParam("chatId")
	if chatID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chatId query parameter is required")
	}
	return s.broadcaster.ServeWS(c.Request().Context(), c.Response(), c.Request(), chatID)
}

func interactionView(row *ent.Interaction) map[string]interface{} {
	view := map[string]interface{}{
		"id":        row.ID,
		"agentId":   row.AgentID,
		"chatId":    row.ChatID,
		"type":      row.Type,
		"request":   row.Request,
		"response":  row.Response,
		"content":   row.Content,
		"reason":    row.Reason,
		"createdAt": row.CreatedAt,
	}
	if row.InputTokens != nil {
		view["inputTokens"] = *row.InputTokens
	}
	if row.OutputTokens != nil {
		view["outputTokens"] = *row.OutputTokens
	}
	if row.Trusted != nil {
		view["trusted"] = *row.Trusted
	}
	if row.Blocked != nil {
		view["blocked"] = *row.Blocked
	}
	if row.DurationMs != nil {
		view["durationMs"] = *row.DurationMs
	}
	return view
}
