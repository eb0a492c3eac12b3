package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HeaderAdminKey carries the admin API key on /admin requests.
const HeaderAdminKey = "X-Admin-Key"

const (
	msgAdminDisabled   = "Admin stats disabled; set ADMIN_API_KEY to enable."
	msgInvalidAdminKey = "Invalid admin key."
)

// requireAdminKey checks the X-Admin-Key header against adminKey in
// constant time. An empty adminKey disables the endpoint entirely.
func requireAdminKey(c echo.Context, adminKey string) error {
	if adminKey == "" {
		return echo.NewHTTPError(http.StatusServiceUnavailable, msgAdminDisabled)
	}
	provided := c.Request().Header.Get(HeaderAdminKey)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
		return echo.NewHTTPError(http.StatusUnauthorized, msgInvalidAdminKey)
	}
	return nil
}
