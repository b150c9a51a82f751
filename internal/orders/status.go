package orders

import (
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return st, nil
	}
	return "", apperr.Validation(fmt.Sprintf("unknown order status %q", s))
}

func (s Status) Terminal() bool { return s == StatusDelivered || s == StatusCancelled }

func (s Status) Cancellable() bool {
	_, ok := transitions[s][EventCancel]
	return ok
}

type Event string

const (
	EventConfirm Event = "confirm"
	EventProcess Event = "process"
	EventShip    Event = "ship"
	EventDeliver Event = "deliver"
	EventCancel  Event = "cancel"
)

// transitions is the whole order lifecycle; anything missing is illegal.
var transitions = map[Status]map[Event]Status{
	StatusPending:    {EventConfirm: StatusConfirmed, EventCancel: StatusCancelled},
	StatusConfirmed:  {EventProcess: StatusProcessing, EventCancel: StatusCancelled},
	StatusProcessing: {EventShip: StatusShipped, EventCancel: StatusCancelled},
	StatusShipped:    {EventDeliver: StatusDelivered},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

var eventByTarget = map[Status]Event{
	StatusConfirmed:  EventConfirm,
	StatusProcessing: EventProcess,
	StatusShipped:    EventShip,
	StatusDelivered:  EventDeliver,
	StatusCancelled:  EventCancel,
}

// Next resolves (from, ev) against the transition table.
func Next(from Status, ev Event) (Status, error) {
	to, ok := transitions[from][ev]
	if !ok {
		target := string(ev)
		if t, known := targetOf(ev); known {
			target = string(t)
		}
		return "", apperr.StateTransition(string(from), target)
	}
	return to, nil
}

// EventFor returns the event that leads into target. pending has none.
func EventFor(target Status) (Event, bool) {
	ev, ok := eventByTarget[target]
	return ev, ok
}

func targetOf(ev Event) (Status, bool) {
	for st, e := range eventByTarget {
		if e == ev {
			return st, true
		}
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentChallenge PaymentStatus = "challenge"
	PaymentCancelled PaymentStatus = "cancelled"
)

var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:   {PaymentPending: true, PaymentPaid: true, PaymentFailed: true, PaymentChallenge: true, PaymentCancelled: true},
	PaymentChallenge: {PaymentChallenge: true, PaymentPaid: true, PaymentFailed: true, PaymentCancelled: true},
	PaymentPaid:      {},
	PaymentFailed:    {},
	PaymentCancelled: {},
}

// CanTransitionPayment reports whether a notification may move the payment
// status from -> to. Repeating a non-terminal status is allowed.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}
