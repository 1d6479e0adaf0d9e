package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listRequest struct {
	Level string `query:"level" default:"info" validate:"oneof=info warning critical"`
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

func bind(t *testing.T, target string, req interface{}) []ValidationError {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return ReadAndValidateRequest(c, req)
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	req := &listRequest{}
	require.Nil(t, bind(t, "/alerts", req))
	assert.Equal(t, "info", req.Level)
	assert.Equal(t, 100, req.Limit)
}

func TestReadAndValidateRequestFieldErrors(t *testing.T) {
	errs := bind(t, "/alerts?level=debug&limit=5000", &listRequest{})
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_ONEOF", errs[0].Code)
	assert.Equal(t, "Level", errs[0].Field)
	assert.Equal(t, "Level must be one of: info, warning, critical", errs[0].Message)
	assert.Equal(t, "ERR_LTE", errs[1].Code)
	assert.Equal(t, map[string]interface{}{"max": "1000"}, errs[1].Params)
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	errs := bind(t, "/alerts?limit=many", &listRequest{})
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, NotFoundErrorf("asset %s is not tracked", "DOGE")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Status int        `json:"status"`
		Data   []AppError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_NOT_FOUND", body.Data[0].Code)
	assert.Equal(t, "asset DOGE is not tracked", body.Data[0].Message)
}
