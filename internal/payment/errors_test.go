package payment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReasonTagNamesInnermostCause(t *testing.T) {
	inner := errors.New("account frozen")
	err := fmt.Errorf("poller tick: %w", &CollectFundsFailedError{Msg: "ach debit could not be initiated", Cause: inner})

	require.Equal(t, "*errors.errorString", ReasonTag(err))
	require.Equal(t, "*payment.CollectFundsFailedError", ReasonTag(&CollectFundsFailedError{Msg: "no cause"}))
	require.Equal(t, "", ReasonTag(nil))
}

func TestFlattenErrorRendersWholeChain(t *testing.T) {
	err := &SendFundsFailedError{Msg: "charge refund failed", Cause: errors.New("charge disputed")}
	require.Equal(t, "charge refund failed: charge disputed", FlattenError(err))
	require.Equal(t, "", FlattenError(nil))
}

func TestFailureErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	var cf *CollectFundsFailedError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", &CollectFundsFailedError{Cause: cause}), &cf)
	require.ErrorIs(t, cf, cause)

	var sf *SendFundsFailedError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", &SendFundsFailedError{Cause: cause}), &sf)
	require.ErrorIs(t, sf, cause)
}

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "USD 12.50", FormatAmount(1250, "USD"))
	require.Equal(t, "USD 0.05", FormatAmount(5, "USD"))
	require.Equal(t, "USD -3.00", FormatAmount(-300, "USD"))
	require.Equal(t, "XOF 0.00", FormatAmount(0, "XOF"))
}
