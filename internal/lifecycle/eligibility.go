// Package lifecycle decides which customer self-service actions an order currently allows.
package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/joao-fontenele/threadline/internal/domain"
)

const (
	DefaultCancelWindow    = 48 * time.Hour
	DefaultMinReasonLength = 10
)

// CancellableStatuses are the statuses from which a customer may still cancel.
var CancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
}

func isCancellableStatus(status domain.OrderStatus) bool {
	for _, s := range CancellableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CanCancel reports whether the order may be cancelled at now, and how many whole days
// (rounded up) remain in the window. The window is [createdAt, createdAt+window): at its
// end the order is no longer cancellable. A createdAt ahead of now counts as just placed.
// remainingDays is 0 whenever ok is false and at least 1 otherwise.
func CanCancel(status domain.OrderStatus, createdAt, now time.Time, window time.Duration) (ok bool, remainingDays int) {
	if !isCancellableStatus(status) {
		return false, 0
	}
	left := createdAt.Add(window).Sub(now)
	if left <= 0 {
		return false, 0
	}
	left = min(left, window)
	return true, int(math.Ceil(left.Hours() / 24))
}

func CanRequestReturn(status domain.OrderStatus) bool {
	return status == domain.OrderStatusDelivered
}

type Actions struct {
	CanCancel        bool `json:"can_cancel"`
	CancelDaysLeft   int  `json:"cancel_days_left"`
	CanRequestReturn bool `json:"can_request_return"`
}

func Eligibility(o *domain.Order, now time.Time, window time.Duration) Actions {
	ok, days := CanCancel(o.Status, o.CreatedAt, now, window)
	return Actions{
		CanCancel:        ok,
		CancelDaysLeft:   days,
		CanRequestReturn: CanRequestReturn(o.Status),
	}
}

// ValidateReason trims the free-text reason and enforces the minimum length.
func ValidateReason(reason string, min int) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if len([]rune(trimmed)) < min {
		return "", fmt.Errorf("%w: reason must be at least %d characters", domain.ErrValidation, min)
	}
	return trimmed, nil
}
