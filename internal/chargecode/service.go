package chargecode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tawsellah/driverportal-sub000/internal/logger"
	"github.com/tawsellah/driverportal-sub000/internal/metrics"
)

const (
	DefaultBatchMax = 1000

	maxCommitAttempts = 3
	maxRegistryChecks = 3
)

type Service interface {
	Generate(ctx context.Context, count int, amount int64) (*Batch, error)
	Redeem(ctx context.Context, userID int, code string) (*Redemption, error)
	ChargeWallet(ctx context.Context, userID int, code string) Result
	Get(ctx context.Context, code string) (*ChargeCode, error)
	List(ctx context.Context, filter ListFilter) ([]ChargeCode, error)
}

// Options carries the optional collaborators of the service. Nil trackers
// and senders disable throttling and receipts.
type Options struct {
	BatchMax   int
	Failures   FailureTracker
	Receipts   ReceiptSender
	Recipients Recipients
	Now        func() time.Time
}

type service struct {
	store      Store
	gen        *Generator
	batchMax   int
	failures   FailureTracker
	receipts   ReceiptSender
	recipients Recipients
	now        func() time.Time
}

func NewService(store Store, gen *Generator, opts Options) Service {
	if gen == nil {
		gen = NewGenerator()
	}
	if opts.BatchMax <= 0 {
		opts.BatchMax = DefaultBatchMax
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &service{
		store:      store,
		gen:        gen,
		batchMax:   opts.BatchMax,
		failures:   opts.Failures,
		receipts:   opts.Receipts,
		recipients: opts.Recipients,
		now:        opts.Now,
	}
}

func (s *service) Generate(ctx context.Context, count int, amount int64) (*Batch, error) {
	if count > s.batchMax {
		metrics.RecordBatch("rejected", 0)
		return nil, newError(KindInvalidInput, fmt.Sprintf("count must not exceed %d", s.batchMax), nil)
	}

	codes, err := s.gen.Generate(count, amount)
	if err != nil {
		metrics.RecordBatch(outcomeOf(err), 0)
		return nil, err
	}

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		codes, err = s.resolveCollisions(ctx, codes)
		if err != nil {
			metrics.RecordBatch(outcomeOf(err), 0)
			return nil, err
		}

		err = s.store.CreateBatch(ctx, codes)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateCode) {
			logger.Error("persist charge code batch failed", "batch_id", codes[0].BatchID, "error", err)
			metrics.RecordBatch("storage_error", 0)
			return nil, newError(KindStorage, MsgStorage, err)
		}

		logger.Warn("charge code batch collided at commit, retrying",
			"batch_id", codes[0].BatchID,
			"attempt", attempt,
		)
		if attempt == maxCommitAttempts {
			metrics.RecordBatch("generation_error", 0)
			return nil, newError(KindGeneration, MsgGeneration, err)
		}
	}

	batch := &Batch{BatchID: codes[0].BatchID, Amount: amount, Codes: codes}
	metrics.RecordBatch("success", len(codes))
	logger.Info("charge code batch created",
		"batch_id", batch.BatchID,
		"count", len(codes),
		"amount", amount,
	)
	return batch, nil
}

// resolveCollisions replaces codes that already exist in the registry.
func (s *service) resolveCollisions(ctx context.Context, codes []ChargeCode) ([]ChargeCode, error) {
	for check := 0; check < maxRegistryChecks; check++ {
		keys := make([]string, len(codes))
		for i, c := range codes {
			keys[i] = c.Code
		}

		existing, err := s.store.ExistingCodes(ctx, keys)
		if err != nil {
			logger.Error("charge code registry lookup failed", "error", err)
			return nil, newError(KindStorage, MsgStorage, err)
		}
		if len(existing) == 0 {
			return codes, nil
		}
		metrics.RecordCollisions(len(existing))

		taken := make(map[string]struct{}, len(codes)+len(existing))
		for _, k := range keys {
			taken[k] = struct{}{}
		}
		clash := make(map[string]struct{}, len(existing))
		for _, k := range existing {
			clash[k] = struct{}{}
			taken[k] = struct{}{}
		}

		kept := codes[:0:0]
		for _, c := range codes {
			if _, bad := clash[c.Code]; !bad {
				kept = append(kept, c)
			}
		}

		fresh, err := s.gen.Regenerate(len(codes)-len(kept), codes[0], taken)
		if err != nil {
			return nil, err
		}
		codes = append(kept, fresh...)
	}
	return nil, newError(KindGeneration, MsgGeneration, errors.New("registry collisions did not settle"))
}

func (s *service) Redeem(ctx context.Context, userID int, submitted string) (*Redemption, error) {
	if userID <= 0 {
		metrics.RecordRedemption(KindInvalidInput.String())
		return nil, newError(KindInvalidInput, "user id must be positive", nil)
	}

	code := Normalize(submitted)
	if !ValidFormat(code) {
		s.recordFailure(ctx, userID)
		metrics.RecordRedemption(KindInvalidInput.String())
		return nil, newError(KindInvalidInput, MsgInvalidCode, nil)
	}

	if s.failures != nil {
		blocked, err := s.failures.Blocked(ctx, userID)
		if err != nil {
			logger.Warn("redeem limiter unavailable", "user_id", userID, "error", err)
		} else if blocked {
			metrics.RecordRedemption(KindThrottled.String())
			return nil, newError(KindThrottled, MsgThrottled, nil)
		}
	}

	start := time.Now()
	r, err := s.store.Redeem(ctx, code, userID, s.now().UTC())
	metrics.ObserveRedemption(time.Since(start).Seconds())
	if err != nil {
		var out *Error
		switch {
		case errors.Is(err, ErrCodeNotFound):
			s.recordFailure(ctx, userID)
			out = newError(KindNotFound, MsgNotFound, err)
		case errors.Is(err, ErrCodeAlreadyRedeemed):
			out = newError(KindAlreadyRedeemed, MsgAlreadyRedeemed, err)
		default:
			logger.Error("redeem charge code failed", "user_id", userID, "error", err)
			out = newError(KindStorage, MsgStorage, err)
		}
		metrics.RecordRedemption(out.Kind.String())
		logger.Info("charge code rejected", "user_id", userID, "reason", out.Kind.String())
		return nil, out
	}

	metrics.RecordRedemption("success")
	metrics.RecordCredit(r.Amount)
	logger.Info("charge code redeemed",
		"user_id", userID,
		"code", code,
		"amount", r.Amount,
		"balance", r.Balance,
	)

	if s.failures != nil {
		if err := s.failures.Reset(ctx, userID); err != nil {
			logger.Warn("reset redeem failures", "user_id", userID, "error", err)
		}
	}
	s.sendReceipt(ctx, r)

	return r, nil
}

func (s *service) ChargeWallet(ctx context.Context, userID int, code string) Result {
	r, err := s.Redeem(ctx, userID, code)
	if err != nil {
		return Result{Success: false, Message: MessageOf(err)}
	}
	balance := r.Balance
	return Result{Success: true, Message: MsgCharged, NewBalance: &balance}
}

func (s *service) Get(ctx context.Context, code string) (*ChargeCode, error) {
	code = Normalize(code)
	if !ValidFormat(code) {
		return nil, newError(KindInvalidInput, MsgInvalidCode, nil)
	}

	c, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, newError(KindNotFound, MsgNotFound, err)
		}
		return nil, newError(KindStorage, MsgStorage, err)
	}
	return c, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]ChargeCode, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	codes, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, newError(KindStorage, MsgStorage, err)
	}
	return codes, nil
}

func (s *service) recordFailure(ctx context.Context, userID int) {
	if s.failures == nil {
		return
	}
	if err := s.failures.RecordFailure(ctx, userID); err != nil {
		logger.Warn("record redeem failure", "user_id", userID, "error", err)
	}
}

func (s *service) sendReceipt(ctx context.Context, r *Redemption) {
	if s.receipts == nil || s.recipients == nil {
		return
	}

	to, name, err := s.recipients.Recipient(ctx, r.UserID)
	if err != nil {
		logger.Warn("charge receipt recipient lookup failed", "user_id", r.UserID, "error", err)
		return
	}
	if err := s.receipts.SendChargeReceipt(ctx, to, name, r.Code, r.Amount, r.Balance); err != nil {
		logger.Warn("queue charge receipt failed", "user_id", r.UserID, "error", err)
	}
}

func outcomeOf(err error) string {
	if k := KindOf(err); k != 0 {
		return k.String() + "_error"
	}
	return "error"
}
