package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"PoolBet/internal/logging"
	"PoolBet/internal/model"
	"PoolBet/internal/service"
	"PoolBet/internal/verify"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0xaaaa000000000000000000000000000000000001"
	bob   = "0xbbbb000000000000000000000000000000000002"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeBets struct {
	page      service.BetPage
	createErr error
	claimIn   service.ClaimInput
	claimErr  error
	created   []service.CreateBetInput
	refundIn  service.CompleteRefundInput
}

func (f *fakeBets) CreateBet(_ context.Context, in service.CreateBetInput) (*model.Bet, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	return &model.Bet{ID: "bet-1", MarketID: in.MarketID, UserAddress: in.UserAddress, Amount: in.Amount}, nil
}

func (f *fakeBets) CreateTransaction(_ context.Context, in service.CreateTransactionInput) (*model.Transaction, error) {
	return &model.Transaction{ID: "tx-1", Type: in.Type, TransactionHash: in.TransactionHash}, nil
}

func (f *fakeBets) MarkForRefund(_ context.Context, in service.RefundInput) (*model.Bet, error) {
	return &model.Bet{ID: "bet-r", MarketID: in.MarketID, Amount: "0"}, nil
}

func (f *fakeBets) ListBets(_ context.Context, addr string, page service.BetPage) (*service.BetList, error) {
	f.page = page
	return &service.BetList{
		Bets:       []*model.Bet{{ID: "b2", UserAddress: addr}, {ID: "b1", UserAddress: addr}},
		HasMore:    true,
		NextOffset: page.Offset + 2,
	}, nil
}

func (f *fakeBets) ClaimBet(_ context.Context, in service.ClaimInput) (*model.Bet, error) {
	f.claimIn = in
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return &model.Bet{ID: in.BetID, Claimed: true}, nil
}

func (f *fakeBets) GetPayout(_ context.Context, id string) (*service.PayoutView, error) {
	if id == "missing" {
		return nil, service.ErrBetNotFound
	}
	return &service.PayoutView{BetID: id, Status: service.PayoutUnresolved}, nil
}

func (f *fakeBets) ListRefunds(_ context.Context, _ int) ([]service.RefundView, error) {
	return []service.RefundView{{Bet: &model.Bet{ID: "bet-r"}, RefundAmount: "10000000000000000"}}, nil
}

func (f *fakeBets) CompleteRefund(_ context.Context, in service.CompleteRefundInput) (*model.Bet, error) {
	f.refundIn = in
	if in.Caller != bob {
		return nil, service.ErrNotEscrow
	}
	return &model.Bet{ID: in.BetID, TaxStatus: model.TaxStatusRefunded}, nil
}

type fakeMarkets struct{}

func (fakeMarkets) ListMarkets(_ context.Context, status string, page, pageSize int) (*service.MarketListResult, error) {
	if status == "closed" {
		return nil, &service.ValidationError{Field: "status", Msg: "must be live, upcoming or completed"}
	}
	return &service.MarketListResult{Page: page, PageSize: pageSize, Items: []*model.Market{{ID: "1"}}}, nil
}

func (fakeMarkets) GetMarket(_ context.Context, id string) (*model.Market, error) {
	if id != "1" {
		return nil, service.ErrMarketNotFound
	}
	return &model.Market{ID: "1"}, nil
}

func (fakeMarkets) CreateMarket(_ context.Context, in service.CreateMarketInput) (*model.Market, error) {
	return &model.Market{ID: in.ID}, nil
}

func (fakeMarkets) ResolveMarket(_ context.Context, in service.ResolveInput) (*model.Market, error) {
	if in.Caller != alice {
		return nil, errors.New("unexpected caller " + in.Caller)
	}
	return &model.Market{ID: in.MarketID, Result: &in.Result}, nil
}

func newTestRouter(bets *fakeBets) *gin.Engine {
	return NewRouter(RouterDeps{
		Bets:    bets,
		Markets: fakeMarkets{},
		Health:  func(context.Context) error { return nil },
		Logger:  logging.Discard(),
	})
}

func do(t *testing.T, r http.Handler, method, path, wallet string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set(WalletHeader, wallet)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	out := map[string]interface{}{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func betBody(user string) service.CreateBetInput {
	return service.CreateBetInput{
		MarketID:        "1",
		UserAddress:     user,
		Prediction:      model.PredictionYes,
		Amount:          "990000000000000000",
		TransactionHash: "0x" + strings.Repeat("ab", 32),
		ChainID:         11155111,
	}
}

func TestCreateBetRequiresMatchingWallet(t *testing.T) {
	bets := &fakeBets{}
	r := newTestRouter(bets)

	w, _ := do(t, r, http.MethodPost, "/api/bets", "", betBody(alice))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/bets", "0x1234", betBody(alice))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/bets", bob, betBody(alice))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, bets.created)

	w, _ = do(t, r, http.MethodPost, "/api/bets", "0X"+strings.ToUpper(alice[2:]), betBody(alice))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 地址部分大小写不敏感
	w, body := do(t, r, http.MethodPost, "/api/bets", "0x"+strings.ToUpper(alice[2:]), betBody(alice))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "bet-1", body["id"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{"duplicate", &service.DuplicateError{Kind: "bet", Hash: "0x01", ExistingID: "bet-0"}, http.StatusConflict, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "bet-0", body["existingId"])
		}},
		{"market missing", service.ErrMarketNotFound, http.StatusBadRequest, nil},
		{"market exists", service.ErrMarketExists, http.StatusConflict, nil},
		{"chain mismatch", service.ErrChainMismatch, http.StatusBadRequest, nil},
		{"validation", &service.ValidationError{Field: "amount", Msg: "must be positive"}, http.StatusBadRequest, nil},
		{"verification", verify.NewError(verify.ReasonValueMismatch, "0x01", 1), http.StatusBadRequest, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "could not verify transaction", body["error"])
			assert.Equal(t, string(verify.RemediationContactSupport), body["remediation"])
			assert.NotContains(t, body["error"], "value_mismatch")
		}},
		{"ledger down", service.ErrLedgerUnavailable, http.StatusServiceUnavailable, nil},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "internal error", body["error"])
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&fakeBets{createErr: tc.err})
			w, body := do(t, r, http.MethodPost, "/api/bets", alice, betBody(alice))
			assert.Equal(t, tc.status, w.Code)
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestClaimBetUsesCallerFromHeader(t *testing.T) {
	bets := &fakeBets{}
	r := newTestRouter(bets)
	w, body := do(t, r, http.MethodPatch, "/api/bets/bet-9/claim", alice, map[string]string{"claimTransactionHash": "0x01"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["claimed"])
	assert.Equal(t, "bet-9", bets.claimIn.BetID)
	assert.Equal(t, alice, bets.claimIn.Caller)

	for err, status := range map[error]int{
		service.ErrNotOwner:       http.StatusForbidden,
		service.ErrAlreadyClaimed: http.StatusConflict,
		service.ErrBetNotFound:    http.StatusNotFound,
		service.ErrNothingToClaim: http.StatusBadRequest,
	} {
		bets.claimErr = err
		w, _ = do(t, r, http.MethodPatch, "/api/bets/bet-9/claim", alice, map[string]string{"claimTransactionHash": "0x01"})
		assert.Equal(t, status, w.Code, err.Error())
	}
}

func TestReadRoutes(t *testing.T) {
	bets := &fakeBets{}
	r := newTestRouter(bets)

	w, body := do(t, r, http.MethodGet, "/api/bets/"+alice, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["bets"], 2)
	assert.Equal(t, service.BetPage{}, bets.page)

	w, body = do(t, r, http.MethodGet, "/api/bets/"+alice+"?offset=100&limit=50", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.BetPage{Offset: 100, Limit: 50}, bets.page)
	assert.Equal(t, true, body["hasMore"])
	assert.Equal(t, float64(102), body["nextOffset"])

	w, _ = do(t, r, http.MethodGet, "/api/bets/"+alice+"?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/bets/not-an-address", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, r, http.MethodGet, "/api/bets/id/b1/payout", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unresolved", body["status"])
	assert.Nil(t, body["payout"])

	w, _ = do(t, r, http.MethodGet, "/api/bets/id/missing/payout", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/markets/1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/markets/2", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/markets?status=closed", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = do(t, r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMarketWrites(t *testing.T) {
	r := newTestRouter(&fakeBets{})

	w, _ := do(t, r, http.MethodPost, "/api/markets", alice, map[string]interface{}{"id": "5", "creatorAddress": bob})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := do(t, r, http.MethodPost, "/api/markets", alice, map[string]interface{}{"id": "5", "creatorAddress": alice})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "5", body["id"])

	w, body = do(t, r, http.MethodPost, "/api/markets/5/resolve", alice, map[string]interface{}{"result": "yes", "transactionHash": "0x01", "chainId": 1})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "yes", body["result"])
}

func TestRefundRoutes(t *testing.T) {
	bets := &fakeBets{}
	r := newTestRouter(bets)

	w, _ := do(t, r, http.MethodGet, "/api/refunds", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body := do(t, r, http.MethodGet, "/api/refunds?limit=10", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	refunds, ok := body["refunds"].([]interface{})
	require.True(t, ok)
	require.Len(t, refunds, 1)
	assert.Equal(t, "10000000000000000", refunds[0].(map[string]interface{})["refundAmount"])
	assert.Equal(t, "bet-r", refunds[0].(map[string]interface{})["id"])

	hash := "0x" + strings.Repeat("cd", 32)
	w, _ = do(t, r, http.MethodPatch, "/api/bets/bet-r/refund", alice, gin.H{"refundTransactionHash": hash})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = do(t, r, http.MethodPatch, "/api/bets/bet-r/refund", bob, gin.H{"refundTransactionHash": hash})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "refunded", body["taxStatus"])
	assert.Equal(t, "bet-r", bets.refundIn.BetID)
	assert.Equal(t, hash, bets.refundIn.RefundTransactionHash)
}
