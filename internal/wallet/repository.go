package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("transaction amount cannot be zero")
)

const walletColumns = `id, user_id, balance, currency, created_at, updated_at`

const transactionColumns = `id, wallet_id, user_id, amount, type, description, reference, balance_after, created_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetOrCreateWallet(ctx context.Context, userID int) (*Wallet, error) {
	w := &Wallet{}
	err := r.db.GetContext(ctx, w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = r.db.QueryRowxContext(ctx,
		`INSERT INTO wallets (user_id)
		 VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING `+walletColumns,
		userID,
	).StructScan(w)
	if err != nil {
		return nil, err
	}

	return w, nil
}

func (r *repository) AddTransaction(ctx context.Context, entry Entry) (*Transaction, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	t, err := CreditTx(ctx, tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// CreditTx applies entry to the user's wallet inside tx: the wallet row is
// created if missing and locked, the balance is moved by entry.Amount and the
// ledger row is appended. Negative amounts act as debits and never take the
// balance below zero.
func CreditTx(ctx context.Context, tx *sqlx.Tx, entry Entry) (*Transaction, error) {
	if entry.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", entry.Type)
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallets (user_id)
		 VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		entry.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}

	var w Wallet
	err = tx.QueryRowxContext(ctx,
		`SELECT `+walletColumns+`
		 FROM wallets
		 WHERE user_id = $1
		 FOR UPDATE`,
		entry.UserID,
	).StructScan(&w)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}

	newBalance := w.Balance + entry.Amount
	if newBalance < 0 {
		return nil, ErrInsufficientBalance
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE wallets
		 SET balance = $1, updated_at = NOW()
		 WHERE id = $2`,
		newBalance, w.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	t := &Transaction{
		ID:           uuid.NewString(),
		WalletID:     w.ID,
		UserID:       entry.UserID,
		Amount:       entry.Amount,
		Type:         entry.Type,
		Description:  entry.Description,
		Reference:    entry.Reference,
		BalanceAfter: newBalance,
	}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO wallet_transactions (id, wallet_id, user_id, amount, type, description, reference, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		t.ID, t.WalletID, t.UserID, t.Amount, t.Type, t.Description, t.Reference, t.BalanceAfter,
	).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append ledger: %w", err)
	}

	return t, nil
}

func (r *repository) GetTransactions(ctx context.Context, userID int, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	txs := []Transaction{}
	err := r.db.SelectContext(ctx, &txs, `
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	return txs, nil
}

func (r *repository) SumByType(ctx context.Context, userID int) (map[TransactionType]int64, error) {
	var rows []struct {
		Type  TransactionType `db:"type"`
		Total int64           `db:"total"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT type, COALESCE(SUM(amount), 0) AS total
		FROM wallet_transactions
		WHERE user_id = $1
		GROUP BY type
	`, userID)
	if err != nil {
		return nil, err
	}

	totals := make(map[TransactionType]int64, len(rows))
	for _, row := range rows {
		totals[row.Type] = row.Total
	}
	return totals, nil
}
