package gateway

import (
	"strconv"
	"strings"

	"enrollment-service/internal/apperr"

	"github.com/shopspring/decimal"
)

// IPN statuses that confirm a transaction
const (
	StatusValid     = "VALID"
	StatusValidated = "VALIDATED"
)

// Callback is a parsed gateway callback
type Callback struct {
	PaymentID  int64
	TranID     string
	ValID      string
	BankTranID string
	SessionKey string
	CardType   string
	CardIssuer string
	CardBrand  string
	Status     string
	Error      string
	Amount     *decimal.Decimal
	Fields     map[string]string
}

// IsValid reports whether an IPN confirms the transaction
func (c *Callback) IsValid() bool {
	s := strings.ToUpper(strings.TrimSpace(c.Status))
	return s == StatusValid || s == StatusValidated
}

// ParseCallback extracts the correlation id and gateway evidence from a callback's fields.
// The gateway echoes tran_id on every callback, so a payload without it is rejected.
// Malformed input is reported as a gateway error, never a panic.
func ParseCallback(fields map[string]string) (*Callback, error) {
	if fields == nil {
		return nil, apperr.Gateway("empty callback payload")
	}

	raw := strings.TrimSpace(fields["value_c"])
	if raw == "" {
		return nil, apperr.Gateway("callback is missing the payment correlation field")
	}
	paymentID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || paymentID <= 0 {
		return nil, apperr.Gateway("callback correlation field %q is not a payment id", raw)
	}

	tranID := strings.TrimSpace(fields["tran_id"])
	if tranID == "" {
		return nil, apperr.Gateway("callback for payment %d is missing tran_id", paymentID)
	}

	cb := &Callback{
		PaymentID:  paymentID,
		TranID:     tranID,
		ValID:      strings.TrimSpace(fields["val_id"]),
		BankTranID: fields["bank_tran_id"],
		SessionKey: fields["sessionkey"],
		CardType:   fields["card_type"],
		CardIssuer: fields["card_issuer"],
		CardBrand:  fields["card_brand"],
		Status:     fields["status"],
		Error:      fields["error"],
		Fields:     fields,
	}

	if s := strings.TrimSpace(fields["amount"]); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return nil, apperr.Gateway("callback amount %q is not a number", s)
		}
		cb.Amount = &amount
	}

	return cb, nil
}
