package fetch

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/rentflow/store/cache"
)

// Warmer is implemented by every Coordinator regardless of its value type.
type Warmer interface {
	Kind() cache.Kind
	Warm(ctx context.Context, params cache.Params) error
}

// Request pairs a coordinator with the params to warm.
type Request struct {
	Loader Warmer
	Params cache.Params
}

// Prefetch loads every request in parallel. Different keys carry no ordering guarantee.
// The first failure cancels the remaining loads and is returned.
func Prefetch(ctx context.Context, requests ...Request) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		req := req // per-iteration copy (go.mod targets go 1.21, pre-1.22 loop semantics)
		g.Go(func() error {
			if err := req.Loader.Warm(gctx, req.Params); err != nil {
				return errors.Wrapf(err, "prefetch %s", cache.NewKey(req.Loader.Kind(), req.Params))
			}
			return nil
		})
	}
	return g.Wait()
}
