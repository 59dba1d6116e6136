package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onemanvan/fsm/internal/shared"
)

func TestRespondError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		detail bool
	}{
		{fmt.Errorf("load job 4: %w", shared.ErrNotFound), http.StatusNotFound, true},
		{fmt.Errorf("create job: %w", shared.ErrConflict), http.StatusConflict, true},
		{fmt.Errorf("%w: unknown pass", shared.ErrValidation), http.StatusBadRequest, true},
		{fmt.Errorf("%w: void", shared.ErrInvalidState), http.StatusUnprocessableEntity, true},
		{errors.New("dial tcp: refused"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		RespondError(rec, tt.err)

		require.Equal(t, tt.status, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, tt.status, body.Status)
		assert.Equal(t, "about:blank", body.Type)
		if tt.detail {
			assert.Equal(t, tt.err.Error(), body.Detail)
		} else {
			assert.Empty(t, body.Detail)
		}
	}
}
