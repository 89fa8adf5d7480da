package basket_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-offers/internal/basket"
	"github.com/noah-isme/toko-offers/internal/common"
)

type basketBody struct {
	Data struct {
		ID           uuid.UUID `json:"id"`
		Status       string    `json:"status"`
		NumItems     int       `json:"num_items"`
		VoucherCodes []string  `json:"voucher_codes"`
		Lines        []struct {
			Reference string          `json:"reference"`
			Title     string          `json:"title"`
			Quantity  int             `json:"quantity"`
			Discount  decimal.Decimal `json:"discount"`
		} `json:"lines"`
		Offers []struct {
			Name     string          `json:"name"`
			Discount decimal.Decimal `json:"discount"`
		} `json:"offers"`
		Summary struct {
			Total decimal.Decimal `json:"total"`
		} `json:"summary"`
		Upsells []string `json:"upsell_messages"`
	} `json:"data"`
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func routed(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func asUser(req *http.Request, user string) *http.Request {
	return req.WithContext(common.WithUserID(req.Context(), user))
}

func TestBasketHandlers(t *testing.T) {
	f := newServiceFixture(t)
	h := &basket.Handler{Svc: f.svc}

	rec := httptest.NewRecorder()
	h.Create(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/baskets", nil), "u1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created basketBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created.Data.ID.String()
	require.Equal(t, "open", created.Data.Status)
	require.Empty(t, created.Data.Lines)

	addLine := func(user, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/baskets/"+id+"/lines", strings.NewReader(body))
		h.AddLine(rec, asUser(routed(req, map[string]string{"id": id}), user))
		return rec
	}

	rec = addLine("u1", `{"item_id":"`+f.dune.ID.String()+`","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body basketBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Data.NumItems)
	require.Len(t, body.Data.Lines, 1)
	require.Equal(t, "Dune", body.Data.Lines[0].Title)
	require.True(t, body.Data.Lines[0].Discount.Equal(d("2.00")))
	require.Len(t, body.Data.Offers, 1)
	require.Equal(t, "Pair deal", body.Data.Offers[0].Name)
	require.True(t, body.Data.Summary.Total.Equal(d("23.00")))

	rec = addLine("u2", `{"item_id":"`+f.dune.ID.String()+`","quantity":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code, "baskets of other users are hidden")

	rec = addLine("u1", `{"item_id":"`+f.dune.ID.String()+`","quantity":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = addLine("u1", `{"item_id":"`+f.dune.ID.String()+`","quantity":2}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var failure errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	require.Equal(t, "NOT_PURCHASABLE", failure.Error.Code)
	require.Equal(t, "a maximum of 3 can be bought", failure.Error.Message)

	euro, _ := f.shop.item(t, "Momo", "EUR", "8.00", 5)
	rec = addLine("u1", `{"item_id":"`+euro.ID.String()+`","quantity":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	require.Equal(t, "CURRENCY_MISMATCH", failure.Error.Code)

	draft, _ := f.shop.item(t, "Draft", "GBP", "", 5)
	rec = addLine("u1", `{"item_id":"`+draft.ID.String()+`","quantity":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	require.Equal(t, "NO_PRICE", failure.Error.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"nope"}`))
	h.AddVoucher(rec, asUser(routed(req, map[string]string{"id": id}), "u1"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failure))
	require.Equal(t, "VOUCHER_INVALID", failure.Error.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"ship1"}`))
	h.AddVoucher(rec, asUser(routed(req, map[string]string{"id": id}), "u1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []string{"SHIP1"}, body.Data.VoucherCodes)
	require.True(t, body.Data.Summary.Total.Equal(d("19.00")))

	rec = httptest.NewRecorder()
	h.ShippingMethods(rec, asUser(routed(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": id}), "u1"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"standard"`)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"quantity":1}`))
	h.SetLineQuantity(rec, asUser(routed(req, map[string]string{"id": id, "ref": body.Data.Lines[0].Reference}), "u1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Data.NumItems)
	require.Equal(t, []string{"Buy 1 more product from All"}, body.Data.Upsells)

	rec = httptest.NewRecorder()
	h.Submit(rec, asUser(routed(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": id}), "u1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "submitted", body.Data.Status)

	rec = httptest.NewRecorder()
	h.Submit(rec, asUser(routed(httptest.NewRequest(http.MethodPost, "/", nil), map[string]string{"id": id}), "u1"))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, routed(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "bad"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Get(rec, routed(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": uuid.NewString()}))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
