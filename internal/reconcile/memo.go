package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// ErrInvalidMemo marks a transaction whose memo is absent or does not decode
// to the expected payment payload. This is a recoverable per-message error:
// the transaction is skipped, the stream continues.
var ErrInvalidMemo = errors.New("reconcile: invalid memo")

// StroopsPerUnit is the multiplication factor from display units to the
// ledger's smallest indivisible unit (7 decimal places).
const StroopsPerUnit = 10_000_000

var memoValidate = validator.New()

// Memo is the JSON payload carried in a payment transaction's memo field.
type Memo struct {
	Amount     json.Number `json:"amount" validate:"required"`
	CheckoutID string      `json:"checkoutId" validate:"required"`
}

// DecodeMemo parses and validates a transaction memo. A nil or empty memo is
// the same error class as malformed JSON.
func DecodeMemo(memo *string) (Memo, error) {
	if memo == nil || strings.TrimSpace(*memo) == "" {
		return Memo{}, fmt.Errorf("%w: memo absent", ErrInvalidMemo)
	}
	var decoded Memo
	if err := json.Unmarshal([]byte(*memo), &decoded); err != nil {
		return Memo{}, fmt.Errorf("%w: %v", ErrInvalidMemo, err)
	}
	if err := memoValidate.Struct(decoded); err != nil {
		return Memo{}, fmt.Errorf("%w: %v", ErrInvalidMemo, err)
	}
	if _, err := ToStroops(decoded.Amount); err != nil {
		return Memo{}, err
	}
	return decoded, nil
}

// ToStroops converts a display-unit amount to stroops exactly, using decimal
// string arithmetic. Amounts must be positive with at most seven fractional
// digits; float math is never involved so 12.5 converts to exactly 125000000.
func ToStroops(amount json.Number) (int64, error) {
	raw := strings.TrimSpace(amount.String())
	if raw == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidMemo)
	}
	if strings.ContainsAny(raw, "eE") {
		return 0, fmt.Errorf("%w: exponent notation not supported", ErrInvalidMemo)
	}
	if strings.HasPrefix(raw, "-") {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidMemo)
	}
	intPart, fracPart, _ := strings.Cut(raw, ".")
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > 7 {
		return 0, fmt.Errorf("%w: more than 7 fractional digits", ErrInvalidMemo)
	}
	padded := fracPart + strings.Repeat("0", 7-len(fracPart))
	combined := intPart + padded
	value, err := strconv.ParseInt(combined, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount out of range", ErrInvalidMemo)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidMemo)
	}
	return value, nil
}
