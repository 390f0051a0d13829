package order

import (
	"fmt"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// Status is an order lifecycle state. Values are persisted verbatim.
type Status string

const (
	StatusOrdered    Status = "ORDERED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// validNext is the table of allowed edges. Terminal states have none.
var validNext = map[Status][]Status{
	StatusOrdered:    {StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusDelivered, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  nil,
	StatusCancelled:  nil,
}

// ParseStatus validates a status literal.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", apperr.Validation("unknown order status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(validNext[s]) == 0
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError reports a status change the state machine forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("order is already %s", e.From)
	}
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Kind implements apperr.Kinded.
func (e *TransitionError) Kind() apperr.Kind { return apperr.KindInvalidTransition }

// SetStatus moves the order to status to. It is the only place a status
// change is decided.
func (o *Order) SetStatus(to Status) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	return nil
}
