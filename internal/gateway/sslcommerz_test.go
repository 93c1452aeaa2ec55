package gateway

import (
	"errors"
	"testing"
	"time"

	"enrollment-service/config"
	"enrollment-service/internal/apperr"
	"enrollment-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway() *SSLCommerz {
	return NewSSLCommerz(config.GatewayConfig{
		StoreID:       "store",
		StorePassword: "secret",
		URL:           "https://sandbox.sslcommerz.com/gwprocess/v4/api.php",
		Currency:      "BDT",
		FrontendURL:   "https://app.example.com/",
		BackendURL:    "https://api.example.com",
	})
}

func testParams() InitiationParams {
	return InitiationParams{
		PaymentID:     55,
		TransactionID: "TXN_1_1_7_3",
		Amount:        decimal.RequireFromString("1499.5"),
		User:          &models.User{ID: 7, Name: "Rahim", Email: "rahim@example.com", Phone: "01700000000"},
		Course:        &models.Course{ID: 3, Name: "Go in Practice"},
	}
}

func TestBuildInitiation(t *testing.T) {
	payload, err := testGateway().BuildInitiation(testParams())
	require.NoError(t, err)

	assert.Equal(t, "store", payload["store_id"])
	assert.Equal(t, "1499.50", payload["total_amount"])
	assert.Equal(t, "BDT", payload["currency"])
	assert.Equal(t, "TXN_1_1_7_3", payload["tran_id"])
	assert.Equal(t, "education", payload["product_category"])
	assert.Equal(t, "N/A", payload["cus_add1"])
	assert.Equal(t, "https://app.example.com/payment/success", payload["success_url"])
	assert.Equal(t, "https://api.example.com/api/v1/payments/ipn", payload["ipn_url"])
	assert.Equal(t, "7", payload["value_a"])
	assert.Equal(t, "3", payload["value_b"])
	assert.Equal(t, "55", payload["value_c"])
	assert.Equal(t, "Go in Practice", payload["value_d"])
}

func TestBuildInitiationUsesAddress(t *testing.T) {
	p := testParams()
	addr := "House 1, Road 2"
	p.User.Address = &addr

	payload, err := testGateway().BuildInitiation(p)
	require.NoError(t, err)
	assert.Equal(t, addr, payload["cus_add1"])
	assert.Equal(t, addr, payload["ship_add1"])
}

func TestBuildInitiationValidation(t *testing.T) {
	cases := map[string]func(*InitiationParams){
		"zero amount":     func(p *InitiationParams) { p.Amount = decimal.Zero },
		"negative amount": func(p *InitiationParams) { p.Amount = decimal.NewFromInt(-5) },
		"missing phone":   func(p *InitiationParams) { p.User.Phone = "" },
		"missing email":   func(p *InitiationParams) { p.User.Email = " " },
		"bad email":       func(p *InitiationParams) { p.User.Email = "nope" },
		"missing name":    func(p *InitiationParams) { p.User.Name = "" },
		"missing course":  func(p *InitiationParams) { p.Course = nil },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := testParams()
			mutate(&p)
			_, err := testGateway().BuildInitiation(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}
}

func TestNewTransactionIDDistinctPerSequence(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	first := NewTransactionID(7, 3, 1, now)
	second := NewTransactionID(7, 3, 2, now)

	assert.Equal(t, "TXN_1700000000000_1_7_3", first)
	assert.NotEqual(t, first, second)
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback(map[string]string{
		"value_c":      "55",
		"tran_id":      "TXN_1_1_7_3",
		"val_id":       "val-1",
		"bank_tran_id": "bank-1",
		"card_type":    "VISA-Dutch Bangla",
		"status":       "VALID",
		"amount":       "1499.50",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(55), cb.PaymentID)
	assert.Equal(t, "TXN_1_1_7_3", cb.TranID)
	assert.Equal(t, "bank-1", cb.BankTranID)
	assert.True(t, cb.IsValid())
	require.NotNil(t, cb.Amount)
	assert.True(t, cb.Amount.Equal(decimal.RequireFromString("1499.5")))
}

func TestParseCallbackRejectsBadCorrelation(t *testing.T) {
	for _, fields := range []map[string]string{
		nil,
		{},
		{"value_c": ""},
		{"value_c": "abc"},
		{"value_c": "-4"},
		{"value_c": "0"},
		{"value_c": "5"},
		{"value_c": "5", "tran_id": "  "},
		{"value_c": "5", "tran_id": "TXN_1_1_7_3", "amount": "lots"},
	} {
		_, err := ParseCallback(fields)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrGateway), "fields %v", fields)
	}
}

func TestCallbackIsValid(t *testing.T) {
	assert.True(t, (&Callback{Status: "validated"}).IsValid())
	assert.False(t, (&Callback{Status: "INVALID_TRANSACTION"}).IsValid())
	assert.False(t, (&Callback{}).IsValid())
}
