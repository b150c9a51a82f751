// Package payment turns raw gateway notifications into order payment updates.
package payment

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Gateway transaction statuses.
const (
	StatusCapture    = "capture"
	StatusSettlement = "settlement"
	StatusPending    = "pending"
	StatusDeny       = "deny"
	StatusCancel     = "cancel"
	StatusExpire     = "expire"

	FraudAccept    = "accept"
	FraudChallenge = "challenge"
)

// MapGatewayStatus maps a gateway transaction status and fraud verdict to the
// canonical payment status. A capture without a fraud verdict counts as accepted.
func MapGatewayStatus(status, fraud string) (orders.PaymentStatus, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	fraud = strings.ToLower(strings.TrimSpace(fraud))

	switch status {
	case StatusCapture:
		switch fraud {
		case FraudAccept, "":
			return orders.PaymentPaid, nil
		case FraudChallenge:
			return orders.PaymentChallenge, nil
		}
		return "", apperr.Validation(fmt.Sprintf("unknown fraud status %q", fraud))
	case StatusSettlement:
		return orders.PaymentPaid, nil
	case StatusDeny:
		return orders.PaymentFailed, nil
	case StatusCancel, StatusExpire:
		return orders.PaymentCancelled, nil
	case StatusPending:
		return orders.PaymentPending, nil
	}
	return "", apperr.Validation(fmt.Sprintf("unknown transaction status %q", status))
}
