package earnings

import (
	"errors"
)

var (
	ErrCallerNotOwner   = errors.New("earnings: caller must be owner")
	ErrCallerNotAdmin   = errors.New("earnings: caller must be admin")
	ErrInvalidCaller    = errors.New("earnings: invalid caller")
	ErrInvalidSignature = errors.New("earnings: invalid exchange signature")

	ErrInvalidWalletAddress = errors.New("earnings: invalid wallet address")
	ErrInvalidAssetAddress  = errors.New("earnings: invalid asset address")
	ErrSameAdmin            = errors.New("earnings: must be different from current admin")
	ErrSameExchange         = errors.New("earnings: must be different from current exchange")
	ErrNonceEqualsParent    = errors.New("earnings: nonce must be different from parent")
	ErrInvalidatedNonce     = errors.New("earnings: invalidated nonce")
	ErrNonceNotAfterParent  = errors.New("earnings: nonce timestamp must be later than parent")
	ErrInvalidNonce         = errors.New("earnings: invalid nonce")
	ErrInvalidQuantity      = errors.New("earnings: invalid quantity")
	ErrAllowanceUnsupported = errors.New("earnings: asset does not use allowances")

	ErrInsufficientBalance    = errors.New("earnings: insufficient escrow balance")
	ErrTransferEffectMismatch = errors.New("earnings: token contract returned transfer success without expected balance change")
	ErrTokenTransferFailed    = errors.New("earnings: token transfer failed")
	ErrNativeTransferFailed   = errors.New("earnings: native transfer failed")

	ErrInstanceMismatch = errors.New("earnings: stored instance does not match configuration")
	errNilState         = errors.New("earnings: state not configured")
)

// Kind groups engine errors by how a caller should react to them.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindSettlement    Kind = "settlement"
	KindInternal      Kind = "internal"
)

type classification struct {
	err  error
	kind Kind
	code string
}

var classifications = []classification{
	{ErrCallerNotOwner, KindAuthorization, "caller_not_owner"},
	{ErrCallerNotAdmin, KindAuthorization, "caller_not_admin"},
	{ErrInvalidCaller, KindAuthorization, "invalid_caller"},
	{ErrInvalidSignature, KindAuthorization, "invalid_exchange_signature"},
	{ErrInvalidWalletAddress, KindValidation, "invalid_wallet_address"},
	{ErrInvalidAssetAddress, KindValidation, "invalid_asset_address"},
	{ErrSameAdmin, KindValidation, "admin_not_distinct"},
	{ErrSameExchange, KindValidation, "exchange_not_distinct"},
	{ErrNonceEqualsParent, KindValidation, "nonce_equals_parent"},
	{ErrInvalidatedNonce, KindValidation, "nonce_chain_mismatch"},
	{ErrNonceNotAfterParent, KindValidation, "nonce_timestamp_not_after_parent"},
	{ErrInvalidNonce, KindValidation, "invalid_nonce"},
	{ErrInvalidQuantity, KindValidation, "invalid_quantity"},
	{ErrAllowanceUnsupported, KindValidation, "allowance_unsupported"},
	{ErrInsufficientBalance, KindSettlement, "insufficient_balance"},
	{ErrTransferEffectMismatch, KindSettlement, "transfer_effect_mismatch"},
	{ErrTokenTransferFailed, KindSettlement, "token_transfer_failed"},
	{ErrNativeTransferFailed, KindSettlement, "native_transfer_failed"},
}

// Classify maps err onto the engine's error taxonomy. Unknown errors are
// reported as internal. A nil error yields the code "ok".
func Classify(err error) (Kind, string) {
	if err == nil {
		return "", "ok"
	}
	for _, c := range classifications {
		if errors.Is(err, c.err) {
			return c.kind, c.code
		}
	}
	return KindInternal, "internal"
}
