package wallet

import "time"

type TransactionType string

const (
	TypeCharge           TransactionType = "charge"
	TypeTripEarning      TransactionType = "trip_earning"
	TypeTripFee          TransactionType = "trip_fee"
	TypeSystemAdjustment TransactionType = "system_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeCharge, TypeTripEarning, TypeTripFee, TypeSystemAdjustment:
		return true
	}
	return false
}

// Wallet holds a driver's spendable credit in minor currency units.
type Wallet struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Balance   int64     `db:"balance" json:"balance"`
	Currency  string    `db:"currency" json:"currency"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one append-only ledger entry. Amount is signed.
type Transaction struct {
	ID           string          `db:"id" json:"id"`
	WalletID     int             `db:"wallet_id" json:"wallet_id"`
	UserID       int             `db:"user_id" json:"user_id"`
	Amount       int64           `db:"amount" json:"amount"`
	Type         TransactionType `db:"type" json:"type"`
	Description  string          `db:"description" json:"description"`
	Reference    string          `db:"reference" json:"reference,omitempty"`
	BalanceAfter int64           `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Entry describes a balance change to be applied together with its ledger row.
type Entry struct {
	UserID      int
	Amount      int64
	Type        TransactionType
	Description string
	Reference   string
}

type Summary struct {
	UserID       int    `json:"user_id"`
	Balance      int64  `json:"balance"`
	Currency     string `json:"currency"`
	Charges      int64  `json:"charges"`
	TripEarnings int64  `json:"trip_earnings"`
	TripFees     int64  `json:"trip_fees"`
	Adjustments  int64  `json:"adjustments"`
	Net          int64  `json:"net"`
}

type Reconciliation struct {
	UserID        int   `json:"user_id"`
	StoredBalance int64 `json:"stored_balance"`
	LedgerBalance int64 `json:"ledger_balance"`
	Consistent    bool  `json:"consistent"`
}

type PostingRequest struct {
	Amount      int64           `json:"amount" binding:"required"`
	Type        TransactionType `json:"type" binding:"required"`
	Description string          `json:"description" binding:"required,max=255"`
}
