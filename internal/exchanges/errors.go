package exchanges

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNetwork           = errors.New("network error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrRejected          = errors.New("rejected by exchange")
	ErrPrecision         = errors.New("precision error")
	ErrNoCredentials     = errors.New("API credentials are not set")
)

// APIError is an error body returned by the exchange REST API.
type APIError struct {
	Status int
	Code   int
	Msg    string
	kind   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (code %d, http %d)", e.kind, e.Msg, e.Code, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

var insufficientFundsCodes = map[int]bool{
	10101: true, // insufficient balance
	30004: true, // insufficient position
	30005: true, // oversold
}

var invalidOrderCodes = map[int]bool{
	10007:  true, // symbol not supported by the API
	30002:  true, // below minimum transaction volume
	30003:  true, // above maximum transaction volume
	30010:  true, // price out of range
	30014:  true, // invalid symbol
	30016:  true, // trading disabled
	30087:  true, // buy limit exceeded
	30088:  true, // sell limit exceeded
	700004: true, // malformed parameter
}

func classify(code int) error {
	switch {
	case insufficientFundsCodes[code]:
		return ErrInsufficientFunds
	case invalidOrderCodes[code]:
		return ErrInvalidOrder
	default:
		return ErrRejected
	}
}

func networkError(err error) error {
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// Category returns the user-facing label of an exchange error.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return "Insufficient funds"
	case errors.Is(err, ErrInvalidOrder):
		return "Invalid order"
	case errors.Is(err, ErrRejected):
		return "Rejected by exchange"
	case errors.Is(err, ErrPrecision):
		return "Precision error"
	case errors.Is(err, ErrNoCredentials):
		return "No API keys"
	case errors.Is(err, ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return "Network error"
	default:
		return "Error"
	}
}
