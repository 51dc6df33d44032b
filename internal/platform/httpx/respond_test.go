package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("line 3: %w", shared.ErrInsufficientStock), http.StatusConflict, "insufficient-stock"},
		{shared.ErrInvalidBillState, http.StatusConflict, "invalid-bill-state"},
		{shared.ErrAllocationConflict, http.StatusConflict, "allocation-conflict"},
		{shared.ErrExternalSubmission, http.StatusBadGateway, "external-submission-failure"},
		{shared.ErrNotFound, http.StatusNotFound, "not-found"},
		{shared.ErrValidation, http.StatusBadRequest, "validation"},
		{fmt.Errorf("%w: boom", shared.ErrPersistence), http.StatusInternalServerError, "persistence-failure"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)

		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, tc.kind, body.Type)
		if tc.status == http.StatusInternalServerError {
			assert.Empty(t, body.Detail)
		}
	}
}

func TestRespondErrorSetsRetryAfterOnConflict(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.ErrAllocationConflict)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

type sample struct {
	Name string `json:"name" validate:"required"`
	Qty  int    `json:"qty" validate:"gt=0"`
}

func TestDecodeJSONValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","qty":0}`))
	var s sample
	err := DecodeJSON(req, &s)
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "sample.Name required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","qty":2,"extra":1}`))
	require.ErrorIs(t, DecodeJSON(req, &s), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","qty":2}`))
	require.NoError(t, DecodeJSON(req, &s))
	assert.Equal(t, 2, s.Qty)
}
