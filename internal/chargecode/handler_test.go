package chargecode

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct{ mock.Mock }

func (m *MockService) Generate(ctx context.Context, count int, amount int64) (*Batch, error) {
	args := m.Called(ctx, count, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Batch), args.Error(1)
}

func (m *MockService) Redeem(ctx context.Context, userID int, code string) (*Redemption, error) {
	args := m.Called(ctx, userID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Redemption), args.Error(1)
}

func (m *MockService) ChargeWallet(ctx context.Context, userID int, code string) Result {
	return m.Called(ctx, userID, code).Get(0).(Result)
}

func (m *MockService) Get(ctx context.Context, code string) (*ChargeCode, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeCode), args.Error(1)
}

func (m *MockService) List(ctx context.Context, filter ListFilter) ([]ChargeCode, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChargeCode), args.Error(1)
}

func setupRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)

	r.POST("/wallet/charge", func(c *gin.Context) {
		c.Set("user_id", 7)
		c.Next()
	}, h.ChargeWallet)
	r.POST("/anon/charge", h.ChargeWallet)
	r.POST("/admin/charge-codes", h.GenerateCodes)
	r.GET("/admin/charge-codes", h.ListCodes)
	r.GET("/admin/charge-codes/:code", h.GetCode)
	return r
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestChargeWallet_Handler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"success", nil, http.StatusOK, MsgCharged},
		{"invalid", newError(KindInvalidInput, MsgInvalidCode, nil), http.StatusBadRequest, MsgInvalidCode},
		{"not found", newError(KindNotFound, MsgNotFound, ErrCodeNotFound), http.StatusNotFound, MsgNotFound},
		{"already used", newError(KindAlreadyRedeemed, MsgAlreadyRedeemed, ErrCodeAlreadyRedeemed), http.StatusConflict, MsgAlreadyRedeemed},
		{"throttled", newError(KindThrottled, MsgThrottled, nil), http.StatusTooManyRequests, MsgThrottled},
		{"storage", newError(KindStorage, MsgStorage, nil), http.StatusServiceUnavailable, MsgStorage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.err == nil {
				svc.On("Redeem", mock.Anything, 7, "ab12cd34").Return(&Redemption{Code: "AB12CD34", Amount: 10, Balance: 10}, nil)
			} else {
				svc.On("Redeem", mock.Anything, 7, "ab12cd34").Return(nil, tt.err)
			}

			w := postJSON(setupRouter(svc), "/wallet/charge", `{"code":"ab12cd34"}`)
			assert.Equal(t, tt.wantStatus, w.Code)

			var res Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.Equal(t, tt.err == nil, res.Success)
			assert.Equal(t, tt.wantMsg, res.Message)
			if tt.err == nil {
				require.NotNil(t, res.NewBalance)
				assert.Equal(t, int64(10), *res.NewBalance)
			} else {
				assert.Nil(t, res.NewBalance)
			}
		})
	}
}

func TestChargeWallet_MissingCode(t *testing.T) {
	svc := new(MockService)

	w := postJSON(setupRouter(svc), "/wallet/charge", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	svc.AssertNotCalled(t, "Redeem", mock.Anything, mock.Anything, mock.Anything)
}

func TestChargeWallet_Unauthenticated(t *testing.T) {
	svc := new(MockService)

	w := postJSON(setupRouter(svc), "/anon/charge", `{"code":"AB12CD34"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGenerateCodes_Handler(t *testing.T) {
	svc := new(MockService)
	batch := &Batch{BatchID: uuid.New(), Amount: 10, Codes: []ChargeCode{{Code: "AB12CD34", Amount: 10}}}
	svc.On("Generate", mock.Anything, 1, int64(10)).Return(batch, nil)

	w := postJSON(setupRouter(svc), "/admin/charge-codes", `{"count":1,"amount":10}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var got Batch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, batch.BatchID, got.BatchID)
	assert.Equal(t, []string{"AB12CD34"}, got.Strings())
}

func TestGenerateCodes_Validation(t *testing.T) {
	svc := new(MockService)

	for _, body := range []string{`{"count":0,"amount":10}`, `{"count":5}`, `{"count":-1,"amount":10}`, `not json`} {
		w := postJSON(setupRouter(svc), "/admin/charge-codes", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestGenerateCodes_ServiceError(t *testing.T) {
	svc := new(MockService)
	svc.On("Generate", mock.Anything, 5000, int64(10)).Return(nil, newError(KindInvalidInput, "count must not exceed 1000", nil))

	w := postJSON(setupRouter(svc), "/admin/charge-codes", `{"count":5000,"amount":10}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "count must not exceed 1000")
}

func TestListCodes_Handler(t *testing.T) {
	svc := new(MockService)
	batch := uuid.New()
	svc.On("List", mock.Anything, mock.MatchedBy(func(f ListFilter) bool {
		return f.Redeemed != nil && *f.Redeemed && f.BatchID != nil && *f.BatchID == batch && f.Limit == 5 && f.Offset == 10
	})).Return([]ChargeCode{{Code: "AB12CD34"}}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/charge-codes?redeemed=true&batch_id="+batch.String()+"&limit=5&offset=10", nil)
	setupRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AB12CD34")
}

func TestListCodes_BadFilters(t *testing.T) {
	svc := new(MockService)

	for _, q := range []string{"?redeemed=maybe", "?batch_id=nope"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/charge-codes"+q, nil)
		setupRouter(svc).ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestGetCode_Handler(t *testing.T) {
	svc := new(MockService)
	svc.On("Get", mock.Anything, "AB12CD34").Return(&ChargeCode{Code: "AB12CD34", Amount: 10}, nil)
	svc.On("Get", mock.Anything, "ZZ99ZZ99").Return(nil, newError(KindNotFound, MsgNotFound, ErrCodeNotFound))

	w := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/charge-codes/AB12CD34", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/charge-codes/ZZ99ZZ99", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), MsgNotFound)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(KindGeneration))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(Kind(0)))
}
