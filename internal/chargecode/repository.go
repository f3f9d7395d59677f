package chargecode

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

const uniqueViolation = "23505"

const codeColumns = `code, amount, batch_id, redeemed, redeemed_by, redeemed_at, created_at`

type repository struct {
	db *sqlx.DB
}

// NewRepository returns the Postgres implementation of Store.
func NewRepository(db *sqlx.DB) Store {
	return &repository{db: db}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*ChargeCode, error) {
	var c ChargeCode
	err := r.db.GetContext(ctx, &c, `SELECT `+codeColumns+` FROM charge_codes WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) ExistingCodes(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	existing := []string{}
	err := r.db.SelectContext(ctx, &existing,
		`SELECT code FROM charge_codes WHERE code = ANY($1)`,
		pq.Array(codes),
	)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (r *repository) CreateBatch(ctx context.Context, codes []ChargeCode) error {
	if len(codes) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO charge_codes (code, amount, batch_id, created_at)
		 VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx, c.Code, c.Amount, c.BatchID, c.CreatedAt); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateCode, c.Code)
			}
			return fmt.Errorf("insert charge code: %w", err)
		}
	}

	return tx.Commit()
}

// Redeem flips the code and credits the wallet in one transaction. The
// conditional UPDATE serialises concurrent redeemers on the code row; the
// loser sees zero affected rows once the winner commits.
func (r *repository) Redeem(ctx context.Context, code string, userID int, at time.Time) (*Redemption, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var c ChargeCode
	err = tx.QueryRowxContext(ctx,
		`UPDATE charge_codes
		 SET redeemed = TRUE, redeemed_by = $2, redeemed_at = $3
		 WHERE code = $1 AND redeemed = FALSE
		 RETURNING `+codeColumns,
		code, userID, at,
	).StructScan(&c)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("flip charge code: %w", err)
		}
		return nil, r.classify(ctx, tx, code)
	}

	t, err := wallet.CreditTx(ctx, tx, wallet.Entry{
		UserID:      userID,
		Amount:      c.Amount,
		Type:        wallet.TypeCharge,
		Description: ChargeDescription(c.Code),
		Reference:   c.Code,
	})
	if err != nil {
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit redemption: %w", err)
	}

	return &Redemption{
		Code:        c.Code,
		Amount:      c.Amount,
		UserID:      userID,
		Transaction: *t,
		Balance:     t.BalanceAfter,
	}, nil
}

func (r *repository) classify(ctx context.Context, tx *sqlx.Tx, code string) error {
	var redeemed bool
	err := tx.GetContext(ctx, &redeemed, `SELECT redeemed FROM charge_codes WHERE code = $1`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrCodeNotFound
		}
		return fmt.Errorf("classify charge code: %w", err)
	}
	if redeemed {
		return ErrCodeAlreadyRedeemed
	}
	// Unredeemed yet not updated: the row changed between the two statements.
	return fmt.Errorf("charge code %s changed concurrently", code)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]ChargeCode, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Redeemed != nil {
		args = append(args, *filter.Redeemed)
		where = append(where, fmt.Sprintf("redeemed = $%d", len(args)))
	}
	if filter.BatchID != nil {
		args = append(args, *filter.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}

	query := `SELECT ` + codeColumns + ` FROM charge_codes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, code LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	codes := []ChargeCode{}
	if err := r.db.SelectContext(ctx, &codes, query, args...); err != nil {
		return nil, err
	}
	return codes, nil
}
