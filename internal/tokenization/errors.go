package tokenization

import "errors"

var (
	ErrNotVerified            = errors.New("asset has no passing verification")
	ErrConcurrentMintConflict = errors.New("another mint for this asset is in progress")
	ErrAlreadyTokenized       = errors.New("asset already has an active token")
	ErrLedgerCallFailed       = errors.New("ledger call failed")
	ErrTokenNotFound          = errors.New("token not found")
	ErrAlreadyRevoked         = errors.New("token already revoked")
	ErrAssetMismatch          = errors.New("asset differs from the registered batch")
)
