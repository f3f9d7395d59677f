package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct{ mock.Mock }

func (m *MockService) Balance(ctx context.Context, userID int) (*Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Wallet), args.Error(1)
}

func (m *MockService) History(ctx context.Context, userID, limit, offset int) ([]Transaction, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockService) Summary(ctx context.Context, userID int) (*Summary, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Summary), args.Error(1)
}

func (m *MockService) Post(ctx context.Context, userID int, req PostingRequest) (*Transaction, error) {
	args := m.Called(ctx, userID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transaction), args.Error(1)
}

func (m *MockService) Reconcile(ctx context.Context, userID int) (*Reconciliation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Reconciliation), args.Error(1)
}

func setupRouter(svc Service, userID int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc)

	driver := r.Group("/")
	driver.Use(func(c *gin.Context) {
		if userID > 0 {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	driver.GET("/wallet", h.GetBalance)
	driver.GET("/wallet/transactions", h.ListTransactions)
	driver.GET("/wallet/summary", h.GetSummary)

	r.POST("/admin/users/:userID/wallet/transactions", h.PostTransaction)
	r.GET("/admin/users/:userID/wallet/reconcile", h.Reconcile)
	return r
}

func TestGetBalance_Handler(t *testing.T) {
	svc := new(MockService)
	svc.On("Balance", mock.Anything, 3).Return(&Wallet{ID: 1, UserID: 3, Balance: 1000, Currency: "JOD"}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	setupRouter(svc, 3).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got Wallet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, int64(1000), got.Balance)
}

func TestGetBalance_Unauthenticated(t *testing.T) {
	svc := new(MockService)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet", nil)
	setupRouter(svc, 0).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	svc.AssertNotCalled(t, "Balance", mock.Anything, mock.Anything)
}

func TestListTransactions_Handler(t *testing.T) {
	svc := new(MockService)
	svc.On("History", mock.Anything, 3, 10, 20).Return([]Transaction{{ID: "a"}, {ID: "b"}}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/transactions?limit=10&offset=20", nil)
	setupRouter(svc, 3).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)
}

func TestGetSummary_Error(t *testing.T) {
	svc := new(MockService)
	svc.On("Summary", mock.Anything, 3).Return(nil, errors.New("db down"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/wallet/summary", nil)
	setupRouter(svc, 3).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestPostTransaction_Handler(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		svcErr     error
		callSvc    bool
		wantStatus int
	}{
		{"created", "/admin/users/5/wallet/transactions", `{"amount":1200,"type":"trip_earning","description":"trip 9"}`, nil, true, http.StatusCreated},
		{"bad user id", "/admin/users/abc/wallet/transactions", `{"amount":1200,"type":"trip_earning","description":"x"}`, nil, false, http.StatusBadRequest},
		{"missing fields", "/admin/users/5/wallet/transactions", `{"amount":1200}`, nil, false, http.StatusBadRequest},
		{"charge reserved", "/admin/users/5/wallet/transactions", `{"amount":1200,"type":"charge","description":"x"}`, ErrChargeReserved, true, http.StatusBadRequest},
		{"insufficient", "/admin/users/5/wallet/transactions", `{"amount":-1200,"type":"trip_fee","description":"x"}`, ErrInsufficientBalance, true, http.StatusConflict},
		{"storage", "/admin/users/5/wallet/transactions", `{"amount":5,"type":"system_adjustment","description":"x"}`, errors.New("db down"), true, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			if tt.callSvc {
				if tt.svcErr != nil {
					svc.On("Post", mock.Anything, 5, mock.AnythingOfType("wallet.PostingRequest")).Return(nil, tt.svcErr)
				} else {
					svc.On("Post", mock.Anything, 5, mock.AnythingOfType("wallet.PostingRequest")).Return(&Transaction{ID: "t", Amount: 1200}, nil)
				}
			}

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			setupRouter(svc, 0).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if !tt.callSvc {
				svc.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestReconcile_Handler(t *testing.T) {
	svc := new(MockService)
	svc.On("Reconcile", mock.Anything, 8).Return(&Reconciliation{UserID: 8, StoredBalance: 10, LedgerBalance: 10, Consistent: true}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/users/8/wallet/reconcile", nil)
	setupRouter(svc, 0).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consistent":true`)
}
