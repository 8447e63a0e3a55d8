package tollgate

import (
	"errors"
	"fmt"

	"github.com/KanavDutta/tollgate/store"
)

// MaxKeyLength is the longest rate limit key accepted, in bytes.
const MaxKeyLength = 512

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidKey is returned when the rate limit key is empty or too long
	ErrInvalidKey = errors.New("invalid rate limit key")

	// ErrInvalidCost is returned when a request cost is not positive
	ErrInvalidCost = errors.New("invalid request cost")

	// ErrCostExceedsCapacity is returned when a cost can never be satisfied
	// because it is larger than the bucket capacity. It wraps ErrInvalidCost.
	ErrCostExceedsCapacity = fmt.Errorf("%w: cost exceeds bucket capacity", ErrInvalidCost)

	// ErrContention is returned internally when a key's bucket kept changing
	// under optimistic updates. The failure policy handles it.
	ErrContention = errors.New("too many concurrent updates")

	// ErrStoreUnavailable is the store's unavailability error.
	ErrStoreUnavailable = store.ErrUnavailable
)

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: key is %d bytes, max %d", ErrInvalidKey, len(key), MaxKeyLength)
	}
	return nil
}
