package riskevent

import (
	"errors"
	"fmt"
)

// ErrValidation marks malformed caller input. Handlers map it to 400; it is
// never retried automatically.
var ErrValidation = errors.New("validation failed")

// ValidateMetadata enforces the required metadata subset for an event type.
// The metadata bag is a flat struct; which fields must be present is keyed
// by the event type, so each kind carries only its legal fields.
func ValidateMetadata(t EventType, m Metadata) error {
	switch t {
	case TypeCredit:
		if m.Amount <= 0 {
			return fmt.Errorf("%w: credit events require a positive amount", ErrValidation)
		}
		if m.CustomerID == "" {
			return fmt.Errorf("%w: credit events require customerId", ErrValidation)
		}
	case TypePromoRedeem:
		if m.Source == "" {
			return fmt.Errorf("%w: promo_redeem events require source (the promo code)", ErrValidation)
		}
		if m.CustomerID == "" {
			return fmt.Errorf("%w: promo_redeem events require customerId", ErrValidation)
		}
	case TypeAdminAdjust:
		if m.Amount == 0 {
			return fmt.Errorf("%w: admin_adjust events require a non-zero amount", ErrValidation)
		}
		if m.Source == "" {
			return fmt.Errorf("%w: admin_adjust events require source (the initiating system)", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, t)
	}
	return nil
}
