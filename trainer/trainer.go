// Package trainer wires data, network, problem and optimizer into the
// training methods selectable in utils.Config.
package trainer

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"liptrain/lipschitz"
	"liptrain/nn"
	"liptrain/optimizer"
	"liptrain/problem"
	"liptrain/utils"
)

// pretrainMargin keeps pretrained weights strictly below Psi so that NormT
// yields a feasible start.
const pretrainMargin = 0.95

// boundTol absorbs the bisection tolerance of lipschitz.CertifiedBound.
const boundTol = 1e-9

// Trainer runs one training method on one dataset.
type Trainer struct {
	Config *utils.Config
	Logger logrus.FieldLogger
	Stats  *utils.TimingStats
}

// New validates cfg.
func New(cfg *utils.Config, logger logrus.FieldLogger) (*Trainer, error) {
	if err := utils.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Trainer{Config: cfg, Logger: logger, Stats: &utils.TimingStats{}}, nil
}

type session struct {
	topo     lipschitz.Topology
	oracle   *nn.BatchOracle
	net      *nn.Network
	log      logrus.FieldLogger
	series   *optimizer.Series
	observer optimizer.Observer
}

// outcome is the trained position split into its parts.
type outcome struct {
	res    optimizer.Result
	layers []nn.Layer
	T      []*mat.VecDense
}

func (t *Trainer) session(data *nn.Dataset) (*session, error) {
	cfg := t.Config
	widths, err := cfg.Widths()
	if err != nil {
		return nil, err
	}
	topo, err := lipschitz.NewTopology(widths...)
	if err != nil {
		return nil, err
	}
	inputs, _ := data.Inputs.Dims()
	classes, _ := data.Targets.Dims()
	if inputs != widths[0] || classes != widths[len(widths)-1] {
		return nil, fmt.Errorf("%w: dataset has %d inputs and %d classes, architecture %s",
			lipschitz.ErrDimensionMismatch, inputs, classes, topo)
	}
	act, err := nn.ActivatorByName(cfg.Activation)
	if err != nil {
		return nil, err
	}
	loss, err := nn.LossByName(cfg.Loss)
	if err != nil {
		return nil, err
	}
	oracle, err := nn.NewBatchOracle(data, act, loss, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	log := t.Logger.WithField("method", cfg.Method)
	if cfg.IsBarrier() {
		log = log.WithField("psi", cfg.Psi)
	}
	series := &optimizer.Series{}
	return &session{
		topo:     topo,
		oracle:   oracle,
		net:      nn.NewNetwork(widths, act, cfg.InitScale, rand.NewSource(cfg.Seed)),
		log:      log,
		series:   series,
		observer: optimizer.Observers{series, optimizer.LogObserver{Logger: log, Every: cfg.LogEvery}},
	}, nil
}

// Train runs the configured method and returns the record of the trained
// model. Stage failures are kept in the record; only setup errors and an
// infeasible start are returned.
func (t *Trainer) Train(data *nn.Dataset) (*utils.ModelRecord, error) {
	cfg := t.Config
	s, err := t.session(data)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"architecture": s.topo.String(),
		"samples":      data.Len(),
		"batches":      s.oracle.Batches(),
	}).Info("training started")

	var out outcome
	err = utils.Measure(&t.Stats.TrainTime, func() error {
		var err error
		switch cfg.Method {
		case utils.MethodNominal, utils.MethodL2:
			out, err = t.nominal(s)
		case utils.MethodBarrier:
			out, err = t.barrier(s, s.net.Layers)
		case utils.MethodBarrierFixedT:
			out, err = t.fixedT(s)
		case utils.MethodBarrierPretrained:
			out, err = t.pretrained(s)
		default:
			err = fmt.Errorf("unknown method %q", cfg.Method)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.net.Layers = out.layers

	var bound float64
	err = utils.Measure(&t.Stats.CertifyTime, func() error {
		W := nn.Weights(out.layers)
		if out.T == nil {
			bound = lipschitz.TrivialBound(W)
			return nil
		}
		var err error
		bound, err = lipschitz.CertifiedBound(s.topo, W, out.T)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("certifying trained weights: %w", err)
	}

	record := utils.NewModelRecord(cfg.Method, s.net, out.T)
	record.Bound = bound
	if cfg.IsBarrier() {
		record.Psi = cfg.Psi
		markCertified(s.log, record)
	}
	record.Trace = s.series.Values
	record.SetStages(out.res.Stages)
	record.Duration = out.res.Duration
	s.log.WithFields(logrus.Fields{
		"iterations": out.res.Iterations,
		"objective":  out.res.Objective,
		"bound":      bound,
	}).Info("training finished")
	return record, nil
}

func (t *Trainer) nominal(s *session) (outcome, error) {
	rho := 0.0
	if t.Config.Method == utils.MethodL2 {
		rho = t.Config.Rho
	}
	p := problem.NewNominal(s.topo, s.oracle, rho)
	x0, err := p.Layout.Pack(s.net.Layers, nil)
	if err != nil {
		return outcome{}, err
	}
	adam, err := optimizer.NewAdam(t.Config.Adam)
	if err != nil {
		return outcome{}, err
	}
	adam.Observer = s.observer
	res, err := adam.Run(p, x0)
	if err != nil {
		return outcome{}, err
	}
	layers, _, err := p.Layout.Split(res.X)
	return outcome{res: res, layers: layers}, err
}

// barrier trains W, b and T from layers. T starts uniform at InitT and
// falls back to NormT when that is infeasible.
func (t *Trainer) barrier(s *session, layers []nn.Layer) (outcome, error) {
	cfg := t.Config
	W := nn.Weights(layers)
	T := s.topo.UniformT(cfg.InitT)
	if !feasible(s.topo, cfg.Psi, W, T) {
		s.log.Infof("uniform multipliers %g infeasible, using NormT", cfg.InitT)
		var err error
		if T, err = startT(s.topo, W, cfg.Psi); err != nil {
			return outcome{}, err
		}
	}
	return t.barrierFrom(s, layers, T)
}

func (t *Trainer) barrierFrom(s *session, layers []nn.Layer, T []*mat.VecDense) (outcome, error) {
	p, err := problem.NewBarrier(s.topo, s.oracle, t.Config.Psi)
	if err != nil {
		return outcome{}, err
	}
	p.Stability = t.Config.Stability
	x0, err := p.Layout.Pack(layers, T)
	if err != nil {
		return outcome{}, err
	}
	res, err := t.centralPath(s, p, x0)
	if err != nil {
		return outcome{}, err
	}
	trained, trainedT, err := p.Layout.Split(res.X)
	return outcome{res: res, layers: trained, T: trainedT}, err
}

// fixedT trains W and b under uniform TParam multipliers, or NormT of the
// initial weights when TParam is zero.
func (t *Trainer) fixedT(s *session) (outcome, error) {
	cfg := t.Config
	W := nn.Weights(s.net.Layers)
	var T []*mat.VecDense
	if cfg.TParam > 0 {
		T = s.topo.UniformT(cfg.TParam)
		if !feasible(s.topo, cfg.Psi, W, T) {
			return outcome{}, fmt.Errorf("multipliers %g do not certify psi %g: %w",
				cfg.TParam, cfg.Psi, lipschitz.ErrNotPositiveDefinite)
		}
	} else {
		var err error
		if T, err = startT(s.topo, W, cfg.Psi); err != nil {
			return outcome{}, err
		}
	}

	p, err := problem.NewFixedT(s.topo, s.oracle, cfg.Psi, T)
	if err != nil {
		return outcome{}, err
	}
	p.Stability = cfg.Stability
	x0, err := p.Layout.Pack(s.net.Layers, nil)
	if err != nil {
		return outcome{}, err
	}
	res, err := t.centralPath(s, p, x0)
	if err != nil {
		return outcome{}, err
	}
	layers, _, err := p.Layout.Split(res.X)
	return outcome{res: res, layers: layers, T: T}, err
}

// pretrained runs plain Adam while the trivial bound stays below
// pretrainMargin·Psi, then continues under the barrier from the last
// position inside that limit with T = NormT.
func (t *Trainer) pretrained(s *session) (outcome, error) {
	cfg := t.Config
	p := problem.NewNominal(s.topo, s.oracle, 0)
	x0, err := p.Layout.Pack(s.net.Layers, nil)
	if err != nil {
		return outcome{}, err
	}
	adam, err := optimizer.NewAdam(cfg.Adam)
	if err != nil {
		return outcome{}, err
	}
	adam.Observer = s.observer

	limit := pretrainMargin * cfg.Psi
	last := append([]float64(nil), x0...)
	adam.Criterion = func(_ float64, x, _ []float64) bool {
		layers, _, err := p.Layout.Split(x)
		if err != nil || lipschitz.TrivialBound(nn.Weights(layers)) >= limit {
			return false
		}
		copy(last, x)
		return true
	}

	var pre optimizer.Result
	if err := utils.Measure(&t.Stats.PretrainTime, func() error {
		var err error
		pre, err = adam.Run(p, x0)
		return err
	}); err != nil {
		return outcome{}, fmt.Errorf("pretraining: %w", err)
	}
	layers, _, err := p.Layout.Split(last)
	if err != nil {
		return outcome{}, err
	}
	W := nn.Weights(layers)
	s.log.WithFields(logrus.Fields{
		"iterations": pre.Iterations,
		"trivial":    lipschitz.TrivialBound(W),
	}).Info("pretraining finished")

	T, err := startT(s.topo, W, cfg.Psi)
	if err != nil {
		return outcome{}, err
	}
	out, err := t.barrierFrom(s, layers, T)
	out.res.Duration += pre.Duration
	return out, err
}

func (t *Trainer) centralPath(s *session, p optimizer.Problem, x0 []float64) (optimizer.Result, error) {
	cp, err := optimizer.NewCentralPath(t.Config.CentralPath)
	if err != nil {
		return optimizer.Result{}, err
	}
	cp.Observer = s.observer
	return cp.Run(p, x0)
}

// markCertified flags a record whose certified bound exceeds Psi. Without
// the guard only the stabilised certificate is kept feasible, so the exact
// bound may end up above Psi.
func markCertified(log logrus.FieldLogger, record *utils.ModelRecord) {
	record.Certified = record.Bound <= record.Psi*(1+boundTol)
	if !record.Certified {
		log.WithFields(logrus.Fields{
			"bound": record.Bound,
			"psi":   record.Psi,
		}).Warn("certified bound exceeds psi, enable central_path.guard to keep it")
	}
}

// startT returns NormT multipliers and checks that they certify psi.
func startT(topo lipschitz.Topology, W []*mat.Dense, psi float64) ([]*mat.VecDense, error) {
	T, err := lipschitz.NormT(topo, W, psi)
	if err != nil {
		return nil, err
	}
	if !feasible(topo, psi, W, T) {
		return nil, fmt.Errorf("weights with trivial bound %g do not admit psi %g: %w",
			lipschitz.TrivialBound(W), psi, lipschitz.ErrNotPositiveDefinite)
	}
	return T, nil
}

// feasible reports whether chi(psi, W, T) is positive definite without
// stabilisation.
func feasible(topo lipschitz.Topology, psi float64, W []*mat.Dense, T []*mat.VecDense) bool {
	c, err := lipschitz.NewCertificate(topo, psi, W, T)
	if err != nil {
		return false
	}
	_, err = lipschitz.Factorize(c, 0)
	return err == nil
}
