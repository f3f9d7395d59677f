package chargecode

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindNotFound
	KindAlreadyRedeemed
	KindStorage
	KindGeneration
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindAlreadyRedeemed:
		return "already_redeemed"
	case KindStorage:
		return "storage"
	case KindGeneration:
		return "generation"
	case KindThrottled:
		return "throttled"
	}
	return "unknown"
}

// Store implementations return these; the service maps them to kinds.
var (
	ErrCodeNotFound        = errors.New("charge code not found")
	ErrCodeAlreadyRedeemed = errors.New("charge code already redeemed")
	ErrDuplicateCode       = errors.New("charge code already exists")
)

const (
	MsgInvalidCode     = "invalid code format"
	MsgNotFound        = "code does not exist"
	MsgAlreadyRedeemed = "code already used"
	MsgStorage         = "could not complete the request, please try again"
	MsgGeneration      = "could not generate codes"
	MsgThrottled       = "too many failed attempts, try again later"
	MsgCharged         = "wallet charged"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// MessageOf returns the user-facing message carried by err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return MsgStorage
}
