// Package gateway builds payment-initiation payloads for an SSLCommerz-shaped
// hosted checkout and parses the callbacks it sends back.
package gateway

import (
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/shopspring/decimal"
)

const (
	productCategory = "education"
	productProfile  = "non-physical-goods"
	shippingMethod  = "NO"
	defaultAddress  = "N/A"
	defaultCity     = "Dhaka"
	defaultCountry  = "Bangladesh"
	defaultPostcode = "1000"
)

// InitiationParams is what the payment ledger knows when it opens a payment
type InitiationParams struct {
	PaymentID     int64
	TransactionID string
	Amount        decimal.Decimal
	User          *models.User
	Course        *models.Course
}

// InitiationPayload is the form the client posts to the hosted checkout
type InitiationPayload map[string]string

// SSLCommerz is the gateway adapter. It holds no state beyond its configuration.
type SSLCommerz struct {
	cfg config.GatewayConfig
}

// NewSSLCommerz creates a gateway adapter from validated configuration
func NewSSLCommerz(cfg config.GatewayConfig) *SSLCommerz {
	return &SSLCommerz{cfg: cfg}
}

// URL is the hosted checkout endpoint the payload is posted to
func (g *SSLCommerz) URL() string {
	return g.cfg.URL
}

// Currency is the currency every payment is opened in
func (g *SSLCommerz) Currency() string {
	return g.cfg.Currency
}

// NewTransactionID derives the gateway transaction id. seq must come from a
// monotonic durable source so repeated attempts for the same user and course never collide.
func NewTransactionID(userID, courseID, seq int64, now time.Time) string {
	return fmt.Sprintf("TXN_%d_%d_%d_%d", now.UnixMilli(), seq, userID, courseID)
}

// ValidateAmount rejects prices that cannot be charged
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("course price must be positive, got %s", amount.String())
	}
	return nil
}

// ValidateCustomer checks the contact fields the gateway requires
func ValidateCustomer(u *models.User) error {
	if u == nil {
		return apperr.Validation("customer is required")
	}
	var missing []string
	if strings.TrimSpace(u.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(u.Email) == "" {
		missing = append(missing, "email")
	} else if _, err := mail.ParseAddress(u.Email); err != nil {
		return apperr.Validation("customer email %q is invalid", u.Email)
	}
	if strings.TrimSpace(u.Phone) == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return apperr.Validation("customer is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// BuildInitiation builds the checkout payload. The payment id travels as value_c
// and comes back on every callback.
func (g *SSLCommerz) BuildInitiation(p InitiationParams) (InitiationPayload, error) {
	if err := ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if err := ValidateCustomer(p.User); err != nil {
		return nil, err
	}
	if p.Course == nil {
		return nil, apperr.Validation("course is required")
	}
	if p.PaymentID <= 0 || p.TransactionID == "" {
		return nil, apperr.Validation("payment id and transaction id are required")
	}

	address := defaultAddress
	if p.User.Address != nil && strings.TrimSpace(*p.User.Address) != "" {
		address = *p.User.Address
	}
	frontend := strings.TrimRight(g.cfg.FrontendURL, "/")
	backend := strings.TrimRight(g.cfg.BackendURL, "/")

	return InitiationPayload{
		"store_id":         g.cfg.StoreID,
		"store_passwd":     g.cfg.StorePassword,
		"total_amount":     p.Amount.StringFixed(2),
		"currency":         g.cfg.Currency,
		"tran_id":          p.TransactionID,
		"success_url":      frontend + "/payment/success",
		"fail_url":         frontend + "/payment/fail",
		"cancel_url":       frontend + "/payment/cancel",
		"ipn_url":          backend + "/api/v1/payments/ipn",
		"product_name":     p.Course.Name,
		"product_category": productCategory,
		"product_profile":  productProfile,
		"cus_name":         p.User.Name,
		"cus_email":        p.User.Email,
		"cus_phone":        p.User.Phone,
		"cus_add1":         address,
		"cus_city":         defaultCity,
		"cus_postcode":     defaultPostcode,
		"cus_country":      defaultCountry,
		"shipping_method":  shippingMethod,
		"ship_name":        p.User.Name,
		"ship_add1":        address,
		"ship_city":        defaultCity,
		"ship_postcode":    defaultPostcode,
		"ship_country":     defaultCountry,
		"num_of_item":      "1",
		"value_a":          strconv.FormatInt(p.User.ID, 10),
		"value_b":          strconv.FormatInt(p.Course.ID, 10),
		"value_c":          strconv.FormatInt(p.PaymentID, 10),
		"value_d":          p.Course.Name,
	}, nil
}
