package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
)

func (s *Service) Get(ctx context.Context, orderID string, actor Actor) (*Order, error) {
	var out *Order
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) || (err == nil && !actor.owns(o)) {
			return apperr.NotFound("order", orderID)
		}
		if err != nil {
			return fmt.Errorf("get order %s: %w", orderID, err)
		}
		out = o
		return nil
	})
	return out, err
}

// History returns the status trail oldest first.
func (s *Service) History(ctx context.Context, orderID string, actor Actor) ([]StatusHistory, error) {
	var out []StatusHistory
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().Get(ctx, orderID)
		if errors.Is(err, ErrOrderNotFound) || (err == nil && !actor.owns(o)) {
			return apperr.NotFound("order", orderID)
		}
		if err != nil {
			return err
		}
		out, err = tx.History().List(ctx, orderID)
		return err
	})
	return out, err
}

func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []Order
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Orders().ListByUser(ctx, userID, limit)
		return err
	})
	return out, err
}

func (s *Service) Payments(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	var out []PaymentRecord
	err := s.uow.Within(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Orders().Get(ctx, orderID); err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				return apperr.NotFound("order", orderID)
			}
			return err
		}
		var err error
		out, err = tx.Payments().ListByOrder(ctx, orderID)
		return err
	})
	return out, err
}
