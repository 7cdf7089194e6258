package proxyapi

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// systemWarningsHandler handles GET /v1/admin/system/warnings: a read-only
// scan for configuration problems that don't fail any individual request.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"warnings": s.warnings.Scan(c.Request().Context()),
	})
}
