// Package memstore keeps charge codes, wallets, ledgers and accounts in
// process memory behind a single lock, so a redemption is applied as one step.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/user"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

// Operation names passed to a commit hook.
const (
	OpCreateBatch = "create_batch"
	OpRedeem      = "redeem"
	OpPost        = "post"
)

// CommitHook runs under the store lock after validation and before any
// mutation. A non-nil error aborts the operation with nothing applied.
type CommitHook func(ctx context.Context, op string) error

type Store struct {
	mu       sync.Mutex
	codes    map[string]chargecode.ChargeCode
	wallets  map[int]*wallet.Wallet
	ledger   map[int][]wallet.Transaction
	users    []user.User
	nextID   int
	currency string
	hook     CommitHook
	now      func() time.Time
}

func New(currency string) *Store {
	if currency == "" {
		currency = "JOD"
	}
	return &Store{
		codes:    make(map[string]chargecode.ChargeCode),
		wallets:  make(map[int]*wallet.Wallet),
		ledger:   make(map[int][]wallet.Transaction),
		currency: currency,
		now:      time.Now,
	}
}

func (s *Store) SetCommitHook(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *Store) commit(ctx context.Context, op string) error {
	if s.hook == nil {
		return nil
	}
	return s.hook(ctx, op)
}

func (s *Store) FindByCode(_ context.Context, code string) (*chargecode.ChargeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, chargecode.ErrCodeNotFound
	}
	return &c, nil
}

func (s *Store) ExistingCodes(_ context.Context, codes []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, c := range codes {
		if _, ok := s.codes[c]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) CreateBatch(ctx context.Context, codes []chargecode.ChargeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, ok := s.codes[c.Code]; ok {
			return fmt.Errorf("%w: %s", chargecode.ErrDuplicateCode, c.Code)
		}
		if _, ok := seen[c.Code]; ok {
			return fmt.Errorf("%w: %s", chargecode.ErrDuplicateCode, c.Code)
		}
		seen[c.Code] = struct{}{}
	}

	if err := s.commit(ctx, OpCreateBatch); err != nil {
		return err
	}

	for _, c := range codes {
		c.Redeemed = false
		c.RedeemedBy = nil
		c.RedeemedAt = nil
		s.codes[c.Code] = c
	}
	return nil
}

func (s *Store) Redeem(ctx context.Context, code string, userID int, at time.Time) (*chargecode.Redemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.codes[code]
	if !ok {
		return nil, chargecode.ErrCodeNotFound
	}
	if c.Redeemed {
		return nil, chargecode.ErrCodeAlreadyRedeemed
	}

	w := s.walletLocked(userID)
	t := s.entryLocked(w, wallet.Entry{
		UserID:      userID,
		Amount:      c.Amount,
		Type:        wallet.TypeCharge,
		Description: chargecode.ChargeDescription(code),
		Reference:   code,
	}, at)

	if err := s.commit(ctx, OpRedeem); err != nil {
		return nil, err
	}

	by := userID
	when := at
	c.Redeemed = true
	c.RedeemedBy = &by
	c.RedeemedAt = &when
	s.codes[code] = c
	s.applyLocked(w, t)

	return &chargecode.Redemption{
		Code:        code,
		Amount:      c.Amount,
		UserID:      userID,
		Transaction: t,
		Balance:     t.BalanceAfter,
	}, nil
}

func (s *Store) List(_ context.Context, filter chargecode.ListFilter) ([]chargecode.ChargeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []chargecode.ChargeCode{}
	for _, c := range s.codes {
		if filter.Redeemed != nil && c.Redeemed != *filter.Redeemed {
			continue
		}
		if filter.BatchID != nil && c.BatchID != *filter.BatchID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (s *Store) GetOrCreateWallet(_ context.Context, userID int) (*wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := *s.walletLocked(userID)
	return &w, nil
}

func (s *Store) AddTransaction(ctx context.Context, entry wallet.Entry) (*wallet.Transaction, error) {
	if entry.Amount == 0 {
		return nil, wallet.ErrZeroAmount
	}
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", entry.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.walletLocked(entry.UserID)
	if w.Balance+entry.Amount < 0 {
		return nil, wallet.ErrInsufficientBalance
	}
	t := s.entryLocked(w, entry, s.now().UTC())

	if err := s.commit(ctx, OpPost); err != nil {
		return nil, err
	}
	s.applyLocked(w, t)
	return &t, nil
}

func (s *Store) GetTransactions(_ context.Context, userID int, limit, offset int) ([]wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.ledger[userID]
	out := make([]wallet.Transaction, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}
	if limit <= 0 {
		limit = 50
	}
	return page(out, limit, offset), nil
}

func (s *Store) SumByType(_ context.Context, userID int) (map[wallet.TransactionType]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals := make(map[wallet.TransactionType]int64)
	for _, t := range s.ledger[userID] {
		totals[t.Type] += t.Amount
	}
	return totals, nil
}

// walletLocked returns the live wallet of userID, creating it if needed.
func (s *Store) walletLocked(userID int) *wallet.Wallet {
	if w, ok := s.wallets[userID]; ok {
		return w
	}
	s.nextID++
	now := s.now().UTC()
	w := &wallet.Wallet{
		ID:        s.nextID,
		UserID:    userID,
		Currency:  s.currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.wallets[userID] = w
	return w
}

func (s *Store) entryLocked(w *wallet.Wallet, e wallet.Entry, at time.Time) wallet.Transaction {
	return wallet.Transaction{
		ID:           uuid.NewString(),
		WalletID:     w.ID,
		UserID:       e.UserID,
		Amount:       e.Amount,
		Type:         e.Type,
		Description:  e.Description,
		Reference:    e.Reference,
		BalanceAfter: w.Balance + e.Amount,
		CreatedAt:    at,
	}
}

func (s *Store) applyLocked(w *wallet.Wallet, t wallet.Transaction) {
	w.Balance = t.BalanceAfter
	w.UpdatedAt = t.CreatedAt
	s.ledger[t.UserID] = append(s.ledger[t.UserID], t)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
