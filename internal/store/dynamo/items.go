package dynamo

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

// Fixed-width UTC timestamps sort lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

type codeItem struct {
	Code       string `dynamodbav:"code"`
	Amount     int64  `dynamodbav:"amount"`
	BatchID    string `dynamodbav:"batch_id"`
	Redeemed   bool   `dynamodbav:"redeemed"`
	RedeemedBy *int   `dynamodbav:"redeemed_by,omitempty"`
	RedeemedAt string `dynamodbav:"redeemed_at,omitempty"`
	CreatedAt  string `dynamodbav:"created_at"`
}

func toCodeItem(c chargecode.ChargeCode) codeItem {
	return codeItem{
		Code:      c.Code,
		Amount:    c.Amount,
		BatchID:   c.BatchID.String(),
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func (i codeItem) toModel() chargecode.ChargeCode {
	batchID, _ := uuid.Parse(i.BatchID)
	c := chargecode.ChargeCode{
		Code:       i.Code,
		Amount:     i.Amount,
		BatchID:    batchID,
		Redeemed:   i.Redeemed,
		RedeemedBy: i.RedeemedBy,
		CreatedAt:  parseTime(i.CreatedAt),
	}
	if i.RedeemedAt != "" {
		at := parseTime(i.RedeemedAt)
		c.RedeemedAt = &at
	}
	return c
}

// walletItem is keyed by user_id; the wallet id is the user id. Version
// guards every balance change.
type walletItem struct {
	UserID    int    `dynamodbav:"user_id"`
	Balance   int64  `dynamodbav:"balance"`
	Currency  string `dynamodbav:"currency"`
	Version   int64  `dynamodbav:"version"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func (i walletItem) toModel() wallet.Wallet {
	return wallet.Wallet{
		ID:        i.UserID,
		UserID:    i.UserID,
		Balance:   i.Balance,
		Currency:  i.Currency,
		CreatedAt: parseTime(i.CreatedAt),
		UpdatedAt: parseTime(i.UpdatedAt),
	}
}

// transactionItem is keyed by user_id and a time-ordered sort key.
type transactionItem struct {
	UserID       int    `dynamodbav:"user_id"`
	SortKey      string `dynamodbav:"sk"`
	ID           string `dynamodbav:"id"`
	WalletID     int    `dynamodbav:"wallet_id"`
	Amount       int64  `dynamodbav:"amount"`
	Type         string `dynamodbav:"type"`
	Description  string `dynamodbav:"description"`
	Reference    string `dynamodbav:"reference,omitempty"`
	BalanceAfter int64  `dynamodbav:"balance_after"`
	CreatedAt    string `dynamodbav:"created_at"`
}

func toTransactionItem(t wallet.Transaction) transactionItem {
	created := formatTime(t.CreatedAt)
	return transactionItem{
		UserID:       t.UserID,
		SortKey:      created + "#" + t.ID,
		ID:           t.ID,
		WalletID:     t.WalletID,
		Amount:       t.Amount,
		Type:         string(t.Type),
		Description:  t.Description,
		Reference:    t.Reference,
		BalanceAfter: t.BalanceAfter,
		CreatedAt:    created,
	}
}

func (i transactionItem) toModel() wallet.Transaction {
	return wallet.Transaction{
		ID:           i.ID,
		WalletID:     i.WalletID,
		UserID:       i.UserID,
		Amount:       i.Amount,
		Type:         wallet.TransactionType(i.Type),
		Description:  i.Description,
		Reference:    i.Reference,
		BalanceAfter: i.BalanceAfter,
		CreatedAt:    parseTime(i.CreatedAt),
	}
}

func itoa(n int) string     { return strconv.Itoa(n) }
func i64toa(n int64) string { return strconv.FormatInt(n, 10) }
