package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
)

func TestAddressFromSecret(t *testing.T) {
	t.Run("Valid secret", func(t *testing.T) {
		kp, _ := keypair.Random()
		address, err := AddressFromSecret(kp.Seed())
		assert.NoError(t, err)
		assert.Equal(t, kp.Address(), address)
	})

	t.Run("Invalid secret", func(t *testing.T) {
		address, err := AddressFromSecret("not_a_secret")
		assert.Error(t, err)
		assert.Empty(t, address)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100.0000000", FormatAmount(100))
	assert.Equal(t, "166.6650000", FormatAmount(166.665))
	// Sub-precision noise is rounded away before formatting.
	assert.Equal(t, "0.1000000", FormatAmount(0.10000000004))
}

func TestRoundAmount(t *testing.T) {
	assert.Equal(t, 33.3333333, RoundAmount(100.0/3.0))
	assert.Equal(t, 0.0000001, RoundAmount(0.00000006))
	assert.Equal(t, 0.0, RoundAmount(0.00000004))
}

func TestTruncateMemo(t *testing.T) {
	assert.Equal(t, "Withdrawal #42", truncateMemo("Withdrawal #42"))

	long := strings.Repeat("x", 40)
	assert.Len(t, truncateMemo(long), 28)
}

func TestLedgerError(t *testing.T) {
	cause := errors.New("tx_failed")
	err := &LedgerError{Kind: LedgerErrNoTrustline, Op: "send payment", Err: cause}

	assert.Contains(t, err.Error(), "no_trustline")
	assert.Contains(t, err.Error(), "send payment")
	assert.ErrorIs(t, err, cause)

	var lerr *LedgerError
	assert.ErrorAs(t, err, &lerr)
	assert.Equal(t, LedgerErrNoTrustline, lerr.Kind)
}
