package inventory_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seed(t fataler, stocks map[string]int) *memory.ProductStore {
	t.Helper()
	store := memory.New().Products()
	for id, stock := range stocks {
		err := store.Create(context.Background(), &product.Product{
			ID:    id,
			Name:  "Product " + id,
			Price: decimal.NewFromInt(10),
			Stock: stock,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	return store
}

func stockOf(t *testing.T, store *memory.ProductStore, id string) int {
	t.Helper()
	p, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestLedger_ApplyDelta(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		delta     int
		wantStock int
		wantKind  apperr.Kind
		wantErr   bool
	}{
		{name: "restock", id: "p1", delta: 3, wantStock: 8},
		{name: "take within stock", id: "p1", delta: -5, wantStock: 0},
		{name: "over-sell rejected", id: "p1", delta: -6, wantErr: true, wantKind: apperr.KindInsufficientStock},
		{name: "unknown product", id: "nope", delta: 1, wantErr: true, wantKind: apperr.KindNotFound},
		{name: "zero delta", id: "p1", delta: 0, wantErr: true, wantKind: apperr.KindValidation},
		{name: "missing id", id: "", delta: 1, wantErr: true, wantKind: apperr.KindValidation},
		{name: "delta above ceiling", id: "p1", delta: inventory.MaxQuantity + 1, wantErr: true, wantKind: apperr.KindValidation},
		{name: "delta below floor", id: "p1", delta: math.MinInt, wantErr: true, wantKind: apperr.KindValidation},
		{name: "stock above ceiling", id: "p1", delta: inventory.MaxQuantity, wantErr: true, wantKind: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t, map[string]int{"p1": 5})
			l := inventory.NewLedger(store)

			p, err := l.ApplyDelta(context.Background(), tt.id, tt.delta)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
				assert.Equal(t, 5, stockOf(t, store, "p1"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStock, p.Stock)
			assert.Equal(t, tt.wantStock, stockOf(t, store, "p1"))
		})
	}
}

func TestLedger_InsufficientStockDetails(t *testing.T) {
	store := seed(t, map[string]int{"p1": 2})

	_, err := inventory.NewLedger(store).ApplyDelta(context.Background(), "p1", -3)

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "p1", stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)
}

func TestLedger_Reserve(t *testing.T) {
	tests := []struct {
		name     string
		lines    []inventory.Line
		want     map[string]int
		wantKind apperr.Kind
		wantErr  bool
	}{
		{
			name:  "all lines reserved",
			lines: []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 1}},
			want:  map[string]int{"p1": 3, "p2": 0},
		},
		{
			name:     "second line short leaves first untouched",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindInsufficientStock,
		},
		{
			name:     "duplicate lines are summed",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: 3}, {ProductID: "p1", Quantity: 3}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindInsufficientStock,
		},
		{
			name:     "unknown product aborts the rest",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: 1}, {ProductID: "zz", Quantity: 1}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindNotFound,
		},
		{
			name:     "non-positive quantity",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: 0}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:     "empty",
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:     "duplicate lines overflowing int",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: math.MaxInt}, {ProductID: "p1", Quantity: math.MaxInt}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
		{
			name:     "duplicate lines above ceiling",
			lines:    []inventory.Line{{ProductID: "p1", Quantity: inventory.MaxQuantity}, {ProductID: "p1", Quantity: 1}},
			want:     map[string]int{"p1": 5, "p2": 1},
			wantErr:  true,
			wantKind: apperr.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t, map[string]int{"p1": 5, "p2": 1})

			err := inventory.NewLedger(store).Reserve(context.Background(), tt.lines)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, apperr.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			for id, want := range tt.want {
				assert.Equal(t, want, stockOf(t, store, id), id)
			}
		})
	}
}

// deltaLog records every delta that reaches the store.
type deltaLog struct {
	inventory.Store
	deltas []int
}

func (d *deltaLog) ApplyStockDelta(ctx context.Context, id string, delta int) (*product.Product, error) {
	d.deltas = append(d.deltas, delta)
	return d.Store.ApplyStockDelta(ctx, id, delta)
}

func TestLedger_ReserveCompensation(t *testing.T) {
	lines := []inventory.Line{{ProductID: "p1", Quantity: 2}, {ProductID: "p2", Quantity: 3}}

	t.Run("standalone returns partial reservation", func(t *testing.T) {
		store := seed(t, map[string]int{"p1": 5, "p2": 1})
		log := &deltaLog{Store: store}

		err := inventory.NewLedger(log).Reserve(context.Background(), lines)
		assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
		assert.Equal(t, []int{-2, -3, 2}, log.deltas)
		assert.Equal(t, 5, stockOf(t, store, "p1"))
	})
	t.Run("in unit of work leaves rollback to the caller", func(t *testing.T) {
		store := seed(t, map[string]int{"p1": 5, "p2": 1})
		log := &deltaLog{Store: store}

		err := inventory.NewLedger(log, inventory.InUnitOfWork()).Reserve(context.Background(), lines)
		assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))
		assert.Equal(t, []int{-2, -3}, log.deltas)
		assert.Equal(t, 3, stockOf(t, store, "p1"))
	})
}

func TestLedger_ReleaseRestoresReservation(t *testing.T) {
	store := seed(t, map[string]int{"p1": 5})
	l := inventory.NewLedger(store)
	lines := []inventory.Line{{ProductID: "p1", Quantity: 2}}

	require.NoError(t, l.Reserve(context.Background(), lines))
	assert.Equal(t, 3, stockOf(t, store, "p1"))
	require.NoError(t, l.Release(context.Background(), lines))
	assert.Equal(t, 5, stockOf(t, store, "p1"))
}

func TestLedger_ConcurrentReservationsNeverOversell(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stock := rapid.IntRange(0, 40).Draw(t, "stock")
		qtys := rapid.SliceOfN(rapid.IntRange(1, 8), 1, 24).Draw(t, "quantities")

		store := seed(t, map[string]int{"p1": stock})
		l := inventory.NewLedger(store)

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			reserved   int
			unexpected []error
		)
		for _, q := range qtys {
			wg.Add(1)
			go func(q int) {
				defer wg.Done()
				err := l.Reserve(context.Background(), []inventory.Line{{ProductID: "p1", Quantity: q}})
				if err == nil {
					mu.Lock()
					reserved += q
					mu.Unlock()
					return
				}
				var stockErr *inventory.InsufficientStockError
				if !errors.As(err, &stockErr) {
					mu.Lock()
					unexpected = append(unexpected, err)
					mu.Unlock()
				}
			}(q)
		}
		wg.Wait()

		if len(unexpected) > 0 {
			t.Fatalf("unexpected errors: %v", unexpected)
		}
		p, err := store.GetByID(context.Background(), "p1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if reserved > stock {
			t.Fatalf("reserved %d of %d", reserved, stock)
		}
		if p.Stock != stock-reserved {
			t.Fatalf("stock %d, want %d", p.Stock, stock-reserved)
		}
	})
}
