package market

import (
	"errors"
	"fmt"
)

// Error kinds returned by CollectibleMarket. Match them with errors.Is;
// the returned errors carry extra context.
var (
	ErrMarketNotCreated       = errors.New("market not created")
	ErrAlreadyInitialized     = errors.New("already initialized")
	ErrNotOptedIn             = errors.New("account not opted in")
	ErrNotAdmin               = errors.New("caller is not the market admin")
	ErrSeasonNotActive        = errors.New("season is not active")
	ErrSeasonActive           = errors.New("season is active")
	ErrInsufficientHolding    = errors.New("insufficient collectible holding")
	ErrInvalidPayment         = errors.New("invalid payment")
	ErrUnknownCollectible     = errors.New("unknown collectible")
	ErrLedgerDelegationFailed = errors.New("ledger delegation failed")
	ErrCorruptState           = errors.New("corrupt market state")
)

func delegation(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerDelegationFailed, op, err)
}
