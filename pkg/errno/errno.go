package errno

import (
	"errors"
	"net/http"
)

// Errno defines the error code logic
type Errno struct {
	Code       int
	HTTPStatus int
	Message    string
}

func (e Errno) Error() string {
	return e.Message
}

// Is 按 Code 比较，使 errors.Is(err, errno.ErrInsufficientFunds) 对包装后的错误同样成立
func (e Errno) Is(target error) bool {
	var t Errno
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMessage returns a copy with a more specific message, e.g. validation details
func (e Errno) WithMessage(msg string) Errno {
	e.Message = msg
	return e
}

// WithCause attaches the underlying error. The cause is only surfaced in development.
func (e Errno) WithCause(cause error) *Err {
	return &Err{Errno: e, Cause: cause}
}

// Err is an Errno carrying its internal cause
type Err struct {
	Errno
	Cause error
}

func (e *Err) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Err) Unwrap() error {
	return e.Cause
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	en := From(err)
	return en.Code, en.Message
}

// From returns the Errno classification of err.
// Unknown errors are InternalServerError.
func From(err error) Errno {
	if err == nil {
		return OK
	}
	var wrapped *Err
	if errors.As(err, &wrapped) {
		return wrapped.Errno
	}
	var plain Errno
	if errors.As(err, &plain) {
		return plain
	}
	return InternalServerError
}

// Detail returns the internal cause text, empty when there is none
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var wrapped *Err
	if errors.As(err, &wrapped) {
		if wrapped.Cause == nil {
			return ""
		}
		return wrapped.Cause.Error()
	}
	var plain Errno
	if errors.As(err, &plain) {
		return ""
	}
	return err.Error()
}

// Common Errors
var (
	OK                  = Errno{Code: 0, HTTPStatus: http.StatusOK, Message: "Success"}
	InternalServerError = Errno{Code: 10001, HTTPStatus: http.StatusInternalServerError, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, HTTPStatus: http.StatusBadRequest, Message: "Error occurred while binding the request body to the struct"}
	ErrTokenInvalid     = Errno{Code: 10003, HTTPStatus: http.StatusUnauthorized, Message: "Unauthorized"}
	ErrDatabase         = Errno{Code: 10004, HTTPStatus: http.StatusInternalServerError, Message: "Database error"}
	ErrRouteNotFound    = Errno{Code: 10005, HTTPStatus: http.StatusNotFound, Message: "Route not found"}
	ErrInvalidAmount    = Errno{Code: 10006, HTTPStatus: http.StatusBadRequest, Message: "Amount is below the smallest unit of the currency"}
)

// Wallet Errors (20200+)
var (
	ErrAccountNotFound     = Errno{Code: 20201, HTTPStatus: http.StatusBadRequest, Message: "Wallet not found"}
	ErrDecryptionFailure   = Errno{Code: 20202, HTTPStatus: http.StatusInternalServerError, Message: "Unable to unlock wallet"}
	ErrWalletExists        = Errno{Code: 20203, HTTPStatus: http.StatusBadRequest, Message: "Wallet already exists"}
	ErrTransferNotFound    = Errno{Code: 20204, HTTPStatus: http.StatusNotFound, Message: "Transfer not found"}
	ErrCurrencyNotFound    = Errno{Code: 20301, HTTPStatus: http.StatusNotFound, Message: "Currency not found"}
	ErrUnsupportedRoute    = Errno{Code: 20302, HTTPStatus: http.StatusBadRequest, Message: "Swap route not supported"}
	ErrQuoteUnavailable    = Errno{Code: 20401, HTTPStatus: http.StatusInternalServerError, Message: "Price quote unavailable, please try again later"}
	ErrInsufficientFunds   = Errno{Code: 20402, HTTPStatus: http.StatusBadRequest, Message: "Insufficient funds"}
	ErrChargeExceedsAmount = Errno{Code: 20403, HTTPStatus: http.StatusBadRequest, Message: "Gas charge exceeds transfer amount"}
	ErrGasPriceTooHigh     = Errno{Code: 20404, HTTPStatus: http.StatusServiceUnavailable, Message: "Network gas price is above the configured ceiling"}
)

// Chain Errors (20500+)
var (
	ErrOnChainRevert       = Errno{Code: 20501, HTTPStatus: http.StatusBadRequest, Message: "Transaction reverted on chain"}
	ErrProviderUnavailable = Errno{Code: 20502, HTTPStatus: http.StatusInternalServerError, Message: "Blockchain provider unavailable"}
	ErrConfirmationPending = Errno{Code: 20503, HTTPStatus: http.StatusBadRequest, Message: "Transaction submitted, awaiting confirmation"}
	ErrPartialSettlement   = Errno{Code: 20504, HTTPStatus: http.StatusInternalServerError, Message: "Gas subsidy settled but transfer failed, flagged for reconciliation"}
)
