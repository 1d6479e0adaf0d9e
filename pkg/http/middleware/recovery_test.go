package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	applogger "VaultPulse/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEcho() *echo.Echo {
	l := applogger.Nop()
	e := echo.New()
	e.Use(Recover(l))
	e.Use(RequestLogging(l))
	return e
}

func TestRecoverWritesInternalError(t *testing.T) {
	e := newTestEcho()
	e.GET("/boom", func(echo.Context) error { panic("nil book") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal error")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequestIDKeepsClientValue(t *testing.T) {
	e := newTestEcho()
	var seen string
	e.GET("/ok", func(c echo.Context) error {
		seen = RequestID(c)
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req-7", seen)
	assert.Equal(t, "req-7", rec.Header().Get(echo.HeaderXRequestID))
}
