package chargecode

import (
	"context"
	"time"
)

// Store persists charge codes and applies redemptions atomically.
//
// Redeem must flip the code from unredeemed to redeemed, credit the user's
// wallet by the code amount and append the matching ledger entry as one
// unit: either all three are visible or none. It returns ErrCodeNotFound or
// ErrCodeAlreadyRedeemed when the flip cannot happen.
type Store interface {
	FindByCode(ctx context.Context, code string) (*ChargeCode, error)
	ExistingCodes(ctx context.Context, codes []string) ([]string, error)
	CreateBatch(ctx context.Context, codes []ChargeCode) error
	Redeem(ctx context.Context, code string, userID int, at time.Time) (*Redemption, error)
	List(ctx context.Context, filter ListFilter) ([]ChargeCode, error)
}

// FailureTracker counts failed redemption attempts per user.
type FailureTracker interface {
	Blocked(ctx context.Context, userID int) (bool, error)
	RecordFailure(ctx context.Context, userID int) error
	Reset(ctx context.Context, userID int) error
}

// ReceiptSender delivers a redemption receipt to the driver.
type ReceiptSender interface {
	SendChargeReceipt(ctx context.Context, to, name, code string, amount, balance int64) error
}

// Recipients resolves a user id to a mail address and display name.
type Recipients interface {
	Recipient(ctx context.Context, userID int) (email, name string, err error)
}

// ChargeDescription is the ledger description of a redemption.
func ChargeDescription(code string) string {
	return "Charge code " + code
}
