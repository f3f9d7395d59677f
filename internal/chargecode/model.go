package chargecode

import (
	"time"

	"github.com/google/uuid"

	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

const (
	CodeLength = 8
	Alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ChargeCode is a single-use prepaid code worth Amount minor units.
// RedeemedBy and RedeemedAt are set exactly when Redeemed is true.
type ChargeCode struct {
	Code       string     `db:"code" json:"code"`
	Amount     int64      `db:"amount" json:"amount"`
	BatchID    uuid.UUID  `db:"batch_id" json:"batch_id"`
	Redeemed   bool       `db:"redeemed" json:"redeemed"`
	RedeemedBy *int       `db:"redeemed_by" json:"redeemed_by,omitempty"`
	RedeemedAt *time.Time `db:"redeemed_at" json:"redeemed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Redemption is the committed outcome of a successful redeem: the ledger
// entry that was appended and the wallet balance after the credit.
type Redemption struct {
	Code        string             `json:"code"`
	Amount      int64              `json:"amount"`
	UserID      int                `json:"user_id"`
	Transaction wallet.Transaction `json:"transaction"`
	Balance     int64              `json:"balance"`
}

type ListFilter struct {
	Redeemed *bool
	BatchID  *uuid.UUID
	Limit    int
	Offset   int
}

// Result is the response shape of a wallet charge attempt.
type Result struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	NewBalance *int64 `json:"new_balance,omitempty"`
}

type GenerateRequest struct {
	Count  int   `json:"count" binding:"required,min=1"`
	Amount int64 `json:"amount" binding:"required,min=1"`
}

type Batch struct {
	BatchID uuid.UUID    `json:"batch_id"`
	Amount  int64        `json:"amount"`
	Codes   []ChargeCode `json:"codes"`
}

// Strings returns the batch's codes in generation order.
func (b *Batch) Strings() []string {
	out := make([]string, len(b.Codes))
	for i, c := range b.Codes {
		out[i] = c.Code
	}
	return out
}

type ChargeRequest struct {
	Code string `json:"code" binding:"required"`
}
