package middlewares

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pulsaku/voucher_backend/models"
)

type countingLookup struct {
	mu      sync.Mutex
	batches [][]int
}

func (l *countingLookup) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	ps, err := l.GetProducts(ctx, []int{id})
	if err != nil || len(ps) == 0 {
		return nil, models.ErrProductNotFound
	}
	return ps[0], nil
}

func (l *countingLookup) GetProducts(_ context.Context, ids []int) ([]*models.Product, error) {
	l.mu.Lock()
	l.batches = append(l.batches, append([]int(nil), ids...))
	l.mu.Unlock()
	var out []*models.Product
	for _, id := range ids {
		if id == 404 {
			continue
		}
		out = append(out, &models.Product{ID: id, Name: "Pulsa"})
	}
	return out, nil
}

func TestProductLoader_BatchesRequestLookups(t *testing.T) {
	lookup := &countingLookup{}
	ctx := WithLoaders(context.Background(), NewLoaders(lookup))

	products, errs := GetProducts(ctx, []int{1, 2, 404, 1})
	if len(lookup.batches) != 1 {
		t.Fatalf("expected one batch, got %v", lookup.batches)
	}
	if len(lookup.batches[0]) != 3 {
		t.Fatalf("expected deduplicated keys, got %v", lookup.batches[0])
	}
	if products[0].ID != 1 || products[1].ID != 2 || products[3].ID != 1 {
		t.Fatalf("unexpected products %+v", products)
	}
	if len(errs) != 4 || !errors.Is(errs[2], models.ErrProductNotFound) {
		t.Fatalf("expected not found for 404, got %v", errs)
	}

	// cached for the rest of the request
	if p, err := GetProduct(ctx, 2); err != nil || p.ID != 2 || len(lookup.batches) != 1 {
		t.Fatalf("got %+v %v batches=%d", p, err, len(lookup.batches))
	}
}
