package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-publisher/internal/domain/credit/entity"
	"github.com/vadim/neo-publisher/internal/domain/credit/service"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL), WithAPIKey("pk"), WithHTTPClient(srv.Client()))
}

func TestCreateCharge_Pix(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer pk", r.Header.Get("Authorization"))
		assert.Equal(t, "ref-1", r.Header.Get("Idempotency-Key"))

		var req chargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(1990), req.Amount)
		assert.Equal(t, "pix", req.Method)
		assert.Equal(t, "52998224725", req.Customer.Document)

		fmt.Fprint(w, `{"id":"ch_1","status":"waiting_payment","pix":{"qr_code":"data:image/png;base64,AAA","copy_paste":"000201..."}}`)
	}))

	ch, err := client.CreateCharge(context.Background(), service.ChargeRequest{
		Reference:   "ref-1",
		AmountCents: 1990,
		Currency:    "BRL",
		Method:      entity.MethodPix,
		CPF:         "52998224725",
	})
	require.NoError(t, err)
	assert.Equal(t, "ch_1", ch.ID)
	assert.Equal(t, entity.PurchasePending, ch.Status)
	assert.Equal(t, "000201...", ch.Instructions.CopyPaste)
	assert.Equal(t, "data:image/png;base64,AAA", ch.Instructions.QRCode)
}

func TestGetCharge_Error(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"not_found","message":"charge not found"}}`)
	}))

	_, err := client.GetCharge(context.Background(), "ch_x")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestCancelCharge(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges/ch_1/cancel", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.CancelCharge(context.Background(), "ch_1"))
}

func TestParseStatus(t *testing.T) {
	tests := map[string]entity.PurchaseStatus{
		"paid":            entity.PurchaseApproved,
		"APPROVED":        entity.PurchaseApproved,
		"refused":         entity.PurchaseRejected,
		"expired":         entity.PurchaseCancelled,
		"canceled":        entity.PurchaseCancelled,
		"waiting_payment": entity.PurchasePending,
		"":                entity.PurchasePending,
	}

	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, ParseStatus(in))
		})
	}
}
