package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/miniflow-io/miniflow/internal/shared/errors"
)

func TestFromErrorMapsEngineKinds(t *testing.T) {
	cases := []struct {
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{errs.InvalidInput("trigger ID is required"), http.StatusBadRequest, "INVALID_INPUT", "trigger ID is required"},
		{errs.NotFound("workflow %s not found", "WFL-1"), http.StatusNotFound, "RESOURCE_NOT_FOUND", "workflow WFL-1 not found"},
		{errs.BusinessRule("workflow is archived"), http.StatusConflict, "BUSINESS_RULE_VIOLATION", "workflow is archived"},
	}
	for _, tc := range cases {
		apiErr := FromError(tc.err)
		assert.Equal(t, tc.wantStatus, apiErr.StatusCode, tc.wantCode)
		assert.Equal(t, tc.wantCode, apiErr.Code, tc.wantCode)
		assert.Equal(t, tc.wantMessage, apiErr.Message, tc.wantCode)
	}
}

func TestFromErrorHidesInternalKinds(t *testing.T) {
	internal := []error{
		errs.Database(errors.New("connection refused"), "loading workflow"),
		errs.Transaction(errors.New("deadlock detected"), "launch"),
		errs.EngineSubmission(errors.New("queue full"), "submitting batch"),
		errors.New("some plain error"),
	}
	for _, err := range internal {
		apiErr := FromError(err)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "internal server error", apiErr.Message)
		assert.NotContains(t, apiErr.Message, "deadlock")
		assert.Nil(t, apiErr.Details)
	}
}

func TestErrorWritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, FromError(errs.NotFound("execution EXE-1 not found")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RESOURCE_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "execution EXE-1 not found", resp.Error.Message)
}

func TestOKWrapsData(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]string{"id": "EXE-1"})

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"id": "EXE-1"}, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestNoContent(t *testing.T) {
	rec := httptest.NewRecorder()
	NoContent(rec)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestPaginatedComputesTotalPages(t *testing.T) {
	cases := []struct {
		total     int64
		perPage   int
		wantPages int
	}{
		{0, 20, 0},
		{20, 20, 1},
		{21, 20, 2},
		{55, 20, 3},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		Paginated(rec, []string{}, 1, tc.perPage, tc.total)

		var resp Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Meta, "total %d", tc.total)
		assert.Equal(t, tc.wantPages, resp.Meta.TotalPages, "total %d", tc.total)
		assert.Equal(t, tc.total, resp.Meta.Total)
	}
}
