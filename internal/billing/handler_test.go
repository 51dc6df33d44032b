package billing

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerBillFlow(t *testing.T) {
	f := newFixture(t)
	f.receive(t, f.tablet, "B1", "2025-01-31", "10")
	r := chi.NewRouter()
	r.Route("/bills", NewHandler(slog.Default(), f.svc).MountRoutes)

	body := fmt.Sprintf(`{"type":"sales","party_id":%d,"company_id":%d,"warehouse_id":1,
		"sales_lines":[{"product_id":%d,"qty":"2","rate":"100","discount_percent":"10","tax_percent":"12"}]}`,
		f.customer, f.company, f.tablet)
	rr := do(t, r, http.MethodPost, "/bills", body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created Bill
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, StatusDraft, created.Status)
	assert.Equal(t, ModeCash, created.Mode)

	rr = do(t, r, http.MethodGet, fmt.Sprintf("/bills/%d/print", created.ID), "")
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid-bill-state")

	rr = do(t, r, http.MethodPost, fmt.Sprintf("/bills/%d/finalize", created.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var finalized Bill
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &finalized))
	require.NotNil(t, finalized.Totals)
	assert.True(t, dec("201.6").Equal(finalized.Totals.GrandTotal))

	rr = do(t, r, http.MethodPost, fmt.Sprintf("/bills/%d/finalize", created.ID), "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, r, http.MethodGet, fmt.Sprintf("/bills/%d/totals", created.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec Recomputation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.True(t, rec.Matches)

	rr = do(t, r, http.MethodGet, "/bills?status=finalized", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []Bill
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rr = do(t, r, http.MethodDelete, fmt.Sprintf("/bills/%d", created.ID), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var cancelled Bill
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cancelled))
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	r := chi.NewRouter()
	r.Route("/bills", NewHandler(slog.Default(), f.svc).MountRoutes)

	rr := do(t, r, http.MethodPost, "/bills", `{"type":"SALES","warehouse_id":1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodPost, "/bills", `{"type":"SALES","party_id":1,"warehouse_id":1,"colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/bills/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, r, http.MethodGet, "/bills/404", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, r, http.MethodGet, "/bills?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	draft := f.salesDraft(t, sale(f.tablet, "1", "10"))
	rr = do(t, r, http.MethodDelete, fmt.Sprintf("/bills/%d", draft.ID), "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
