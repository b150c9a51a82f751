package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxOrderNumberAttempts = 5

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXX. Uniqueness is enforced by the
// store; callers regenerate on collision.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}
