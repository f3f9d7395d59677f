package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/metrics"
)

var (
	ErrChargeReserved = errors.New("charge entries are created by code redemption only")
	ErrInvalidPosting = errors.New("invalid posting")
)

type Service interface {
	Balance(ctx context.Context, userID int) (*Wallet, error)
	History(ctx context.Context, userID, limit, offset int) ([]Transaction, error)
	Summary(ctx context.Context, userID int) (*Summary, error)
	Post(ctx context.Context, userID int, req PostingRequest) (*Transaction, error)
	Reconcile(ctx context.Context, userID int) (*Reconciliation, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Balance(ctx context.Context, userID int) (*Wallet, error) {
	return s.repo.GetOrCreateWallet(ctx, userID)
}

func (s *service) History(ctx context.Context, userID, limit, offset int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.GetTransactions(ctx, userID, limit, offset)
}

func (s *service) Summary(ctx context.Context, userID int) (*Summary, error) {
	w, err := s.repo.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	totals, err := s.repo.SumByType(ctx, userID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		UserID:       userID,
		Balance:      w.Balance,
		Currency:     w.Currency,
		Charges:      totals[TypeCharge],
		TripEarnings: totals[TypeTripEarning],
		TripFees:     totals[TypeTripFee],
		Adjustments:  totals[TypeSystemAdjustment],
	}
	sum.Net = sum.Charges + sum.TripEarnings + sum.TripFees + sum.Adjustments
	return sum, nil
}

// Post records an administrative ledger entry. Trip earnings must be
// positive, trip fees negative, adjustments any non-zero amount.
func (s *service) Post(ctx context.Context, userID int, req PostingRequest) (*Transaction, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidPosting)
	}

	switch req.Type {
	case TypeCharge:
		return nil, ErrChargeReserved
	case TypeTripEarning:
		if req.Amount <= 0 {
			return nil, fmt.Errorf("%w: trip earnings must be positive", ErrInvalidPosting)
		}
	case TypeTripFee:
		if req.Amount >= 0 {
			return nil, fmt.Errorf("%w: trip fees must be negative", ErrInvalidPosting)
		}
	case TypeSystemAdjustment:
		if req.Amount == 0 {
			return nil, ErrZeroAmount
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidPosting, req.Type)
	}

	tx, err := s.repo.AddTransaction(ctx, Entry{
		UserID:      userID,
		Amount:      req.Amount,
		Type:        req.Type,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordPosting(string(req.Type))
	logger.Info("wallet posting recorded",
		"user_id", userID,
		"type", req.Type,
		"amount", req.Amount,
		"balance_after", tx.BalanceAfter,
	)
	return tx, nil
}

// Reconcile compares the stored balance with the sum of the ledger.
func (s *service) Reconcile(ctx context.Context, userID int) (*Reconciliation, error) {
	w, err := s.repo.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	totals, err := s.repo.SumByType(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ledger int64
	for _, v := range totals {
		ledger += v
	}

	rec := &Reconciliation{
		UserID:        userID,
		StoredBalance: w.Balance,
		LedgerBalance: ledger,
		Consistent:    w.Balance == ledger,
	}
	if !rec.Consistent {
		logger.Error("wallet balance does not match ledger",
			"user_id", userID,
			"stored", w.Balance,
			"ledger", ledger,
		)
	}
	return rec, nil
}
