package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/pulsaku/voucher_backend/models"
)

type productReader struct {
	lookup models.ProductLookup
}

func (r *productReader) getProducts(ctx context.Context, ids []int) []*dataloader.Result[*models.Product] {
	results, err := r.lookup.GetProducts(ctx, ids)
	if err != nil {
		return handleError[*models.Product](len(ids), err)
	}

	resultMap := make(map[int]*models.Product, len(results))
	for _, p := range results {
		resultMap[p.ID] = p
	}
	loaderResults := make([]*dataloader.Result[*models.Product], 0, len(ids))
	for _, id := range ids {
		p, ok := resultMap[id]
		if !ok {
			loaderResults = append(loaderResults, &dataloader.Result[*models.Product]{Error: models.ErrProductNotFound})
			continue
		}
		loaderResults = append(loaderResults, &dataloader.Result[*models.Product]{Data: p})
	}
	return loaderResults
}

func GetProduct(ctx context.Context, id int) (*models.Product, error) {
	loaders := For(ctx)
	return loaders.productLoader.Load(ctx, id)()
}

func GetProducts(ctx context.Context, ids []int) ([]*models.Product, []error) {
	loaders := For(ctx)
	return loaders.productLoader.LoadMany(ctx, ids)()
}
