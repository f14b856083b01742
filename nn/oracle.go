package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// BatchOracle evaluates the loss and its gradient on consecutive
// mini-batches. It owns the batch counter: call i uses batch i mod
// (samples/batchSize).
type BatchOracle struct {
	data      *Dataset
	activator Activator
	loss      Loss
	batchSize int
	iter      int
}

// NewBatchOracle requires batchSize to divide the number of samples.
func NewBatchOracle(data *Dataset, act Activator, loss Loss, batchSize int) (*BatchOracle, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if data.Len()%batchSize != 0 {
		return nil, fmt.Errorf("batch size %d does not divide %d samples", batchSize, data.Len())
	}
	return &BatchOracle{data: data, activator: act, loss: loss, batchSize: batchSize}, nil
}

// LossGrad runs forward and backward passes on the next batch, adds the
// batch-mean gradient into grads and returns the batch-mean loss.
func (o *BatchOracle) LossGrad(layers, grads []Layer) (float64, error) {
	k := o.iter % o.Batches()
	o.iter++
	x, y := o.data.Columns(k*o.batchSize, (k+1)*o.batchSize)

	seq := Build(layers, o.activator, grads)
	out, err := seq.Forward(x)
	if err != nil {
		return 0, fmt.Errorf("batch %d: %w", k, err)
	}
	r, c := out.Dims()
	gradOut := mat.NewDense(r, c, nil)
	loss := o.loss.Forward(out, y, gradOut)
	if _, err := seq.Backward(gradOut); err != nil {
		return 0, fmt.Errorf("batch %d: %w", k, err)
	}
	return loss, nil
}

// Batches returns the number of batches per epoch.
func (o *BatchOracle) Batches() int { return o.data.Len() / o.batchSize }

// Iterations returns how many batches have been evaluated.
func (o *BatchOracle) Iterations() int { return o.iter }
