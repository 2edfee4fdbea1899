package enums

import "fmt"

// OrderStatus is the order lifecycle status. Transitions are only legal along
// the graph encoded in orderStatusGraph.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusReturned       OrderStatus = "returned"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusReturned,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

var orderStatusGraph = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusOutForDelivery, OrderStatusDelivered},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusReturned},
	OrderStatusReturned:       {OrderStatusRefunded},
	OrderStatusCancelled:      nil,
	OrderStatusRefunded:       nil,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist.
func (o OrderStatus) IsTerminal() bool {
	return len(orderStatusGraph[o]) == 0 && o.IsValid()
}

// CanTransitionTo reports whether target is reachable in one step.
func (o OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, candidate := range orderStatusGraph[o] {
		if candidate == target {
			return true
		}
	}
	return false
}

// AllowedNext returns the statuses legally reachable from the current one.
func (o OrderStatus) AllowedNext() []OrderStatus {
	next := orderStatusGraph[o]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
