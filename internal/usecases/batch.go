package usecases

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sand/crypto-payment-verifier/backend/internal/entities"
)

// VerifyBatch verifies reqs concurrently and returns results in request order.
// Each network has its own bounded pool so a slow explorer cannot starve the others.
// The only error is the context's: partial results are discarded when ctx ends.
func (s *VerificationService) VerifyBatch(ctx context.Context, reqs []entities.VerifyRequest) ([]*entities.VerificationResult, error) {
	results := make([]*entities.VerificationResult, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.poolSum)

	for i, req := range reqs {
		pool := s.poolFor(entities.ParseNetwork(req.Network))

		g.Go(func() error {
			if err := pool.Acquire(gctx, 1); err != nil {
				return err
			}
			defer pool.Release(1)

			res, err := s.Verify(gctx, req)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "Batch verification completed", "size", len(reqs))

	return results, nil
}

func (s *VerificationService) poolFor(network entities.Network) *semaphore.Weighted {
	if pool, ok := s.pools[network]; ok {
		return pool
	}
	return s.fallback
}
