package domain

type CheckoutStatus string

const (
	CheckoutStatusIdle               CheckoutStatus = "IDLE"
	CheckoutStatusValidating         CheckoutStatus = "VALIDATING"
	CheckoutStatusCreatingOrder      CheckoutStatus = "CREATING_ORDER"
	CheckoutStatusCreatingOrderItems CheckoutStatus = "CREATING_ORDER_ITEMS"
	CheckoutStatusClearingCart       CheckoutStatus = "CLEARING_CART"
	CheckoutStatusDone               CheckoutStatus = "DONE"
	CheckoutStatusFailed             CheckoutStatus = "FAILED"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusIdle:               {CheckoutStatusValidating},
	CheckoutStatusValidating:         {CheckoutStatusCreatingOrder, CheckoutStatusFailed, CheckoutStatusDone},
	CheckoutStatusCreatingOrder:      {CheckoutStatusCreatingOrderItems, CheckoutStatusFailed},
	CheckoutStatusCreatingOrderItems: {CheckoutStatusClearingCart, CheckoutStatusFailed},
	CheckoutStatusClearingCart:       {CheckoutStatusDone},
}

// CanTransitionTo reports whether a checkout attempt may move from one status
// to the next. Validating may go straight to Done for an idempotent replay.
func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusDone || s == CheckoutStatusFailed
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
