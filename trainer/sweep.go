package trainer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"liptrain/nn"
	"liptrain/utils"
)

// Sweep trains one model per bound in psis, at most workers at a time
// (unlimited when workers <= 0). Runs share only the read-only dataset.
// Records keep the order of psis; the first failing run cancels the rest.
func Sweep(ctx context.Context, cfg *utils.Config, logger logrus.FieldLogger, data *nn.Dataset, psis []float64, workers int) ([]*utils.ModelRecord, error) {
	if !cfg.IsBarrier() {
		return nil, fmt.Errorf("sweep needs a barrier method, got %q", cfg.Method)
	}
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	records := make([]*utils.ModelRecord, len(psis))
	for i, psi := range psis {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			run := *cfg
			run.Psi = psi
			tr, err := New(&run, logger.WithField("run", i))
			if err != nil {
				return fmt.Errorf("psi %g: %w", psi, err)
			}
			rec, err := tr.Train(data)
			if err != nil {
				return fmt.Errorf("psi %g: %w", psi, err)
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}
