package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"go.uber.org/zap"
)

// UnitOfWork runs fn inside one transaction, joining the caller's if the
// context already carries one.
type UnitOfWork interface {
	WithinStock(ctx context.Context, fn func(Store) error) error
}

type AdjustInput struct {
	ProductID string
	Delta     int
	Type      TxType
	Notes     string
	ActorID   string
}

// Drift compares the live stock column with the ledger tail.
type Drift struct {
	ProductID   string `json:"product_id"`
	LiveStock   int    `json:"live_stock"`
	LedgerStock int    `json:"ledger_stock"`
	HasLedger   bool   `json:"has_ledger"`
	Drifted     bool   `json:"drifted"`
}

// Service exposes stock operations that are not part of an order.
type Service struct {
	UoW    UnitOfWork
	Ledger *Ledger
	Log    *zap.Logger
}

func (s *Service) Adjust(ctx context.Context, in AdjustInput) (Transaction, error) {
	var out Transaction
	err := s.UoW.WithinStock(ctx, func(st Store) error {
		t, err := s.Ledger.Adjust(ctx, st, in.ProductID, in.Delta, in.Type, in.Notes, in.ActorID)
		out = t
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.Log.Info("stock adjusted",
		zap.String("product_id", in.ProductID),
		zap.String("type", string(in.Type)),
		zap.Int("delta", in.Delta),
		zap.Int("current_stock", out.CurrentStock),
		zap.String("actor_id", in.ActorID),
	)
	return out, nil
}

func (s *Service) CheckStock(ctx context.Context, productID string) (StockLevel, error) {
	var lvl StockLevel
	err := s.UoW.WithinStock(ctx, func(st Store) error {
		var err error
		lvl, err = s.Ledger.CheckStock(ctx, st, productID)
		return err
	})
	return lvl, err
}

func (s *Service) SetThreshold(ctx context.Context, productID string, threshold int) error {
	if threshold < 0 {
		return apperr.Validation("low stock threshold must not be negative")
	}
	return s.UoW.WithinStock(ctx, func(st Store) error {
		err := st.SetThreshold(ctx, productID, threshold)
		if errors.Is(err, ErrProductNotFound) {
			return apperr.NotFound("product", productID)
		}
		return err
	})
}

// History returns ledger rows newest first.
func (s *Service) History(ctx context.Context, productID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Transaction
	err := s.UoW.WithinStock(ctx, func(st Store) error {
		if _, err := st.GetStock(ctx, productID); err != nil {
			if errors.Is(err, ErrProductNotFound) {
				return apperr.NotFound("product", productID)
			}
			return err
		}
		var err error
		out, err = st.ListTransactions(ctx, productID, limit)
		return err
	})
	return out, err
}

func (s *Service) Reconcile(ctx context.Context, productID string) (Drift, error) {
	var d Drift
	err := s.UoW.WithinStock(ctx, func(st Store) error {
		rec, err := st.GetStock(ctx, productID)
		if errors.Is(err, ErrProductNotFound) {
			return apperr.NotFound("product", productID)
		}
		if err != nil {
			return err
		}
		last, err := st.LatestTransaction(ctx, productID)
		if err != nil {
			return fmt.Errorf("latest ledger %s: %w", productID, err)
		}
		d = Drift{ProductID: productID, LiveStock: rec.Stock}
		if last != nil {
			d.HasLedger = true
			d.LedgerStock = last.CurrentStock
			d.Drifted = last.CurrentStock != rec.Stock
		} else {
			// produk tanpa ledger dianggap drift kalau stoknya bukan nol
			d.Drifted = rec.Stock != 0
		}
		return nil
	})
	if err == nil && d.Drifted {
		s.Log.Warn("stock drift detected",
			zap.String("product_id", productID),
			zap.Int("live_stock", d.LiveStock),
			zap.Int("ledger_stock", d.LedgerStock),
		)
	}
	return d, err
}
