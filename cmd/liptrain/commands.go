package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"liptrain/lipschitz"
	"liptrain/nn"
	"liptrain/trainer"
	"liptrain/utils"
)

func (a *app) trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model and write its record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			stats := &utils.TimingStats{}
			start := time.Now()

			var train, test *nn.Dataset
			var mean, std []float64
			if err := utils.Measure(&stats.DataLoadingTime, func() error {
				var err error
				train, test, mean, std, err = loadData(cfg)
				return err
			}); err != nil {
				return err
			}

			tr, err := trainer.New(cfg, logger)
			if err != nil {
				return err
			}
			tr.Stats = stats
			record, err := tr.Train(train)
			if err != nil {
				return err
			}
			record.InputMean, record.InputStd = mean, std
			if test != nil {
				if err := logScore(logger, record, test, cfg.Loss); err != nil {
					return err
				}
			}
			stats.TotalTime = time.Since(start)

			if err := utils.SaveRecord(cfg.Output, record); err != nil {
				return err
			}
			logger.WithField("run_id", record.RunID).Infof("model written to %s", cfg.Output)

			utils.Output = cmd.OutOrStdout()
			utils.PrintTimingStats(stats, iterations(record))
			return nil
		},
	}
	cmd.Flags().Float64("psi", 0, "Lipschitz bound for barrier methods")
	a.addTrainingFlags(cmd)
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		psis    []float64
		workers int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Train one model per bound in parallel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(psis) == 0 {
				return fmt.Errorf("no bounds given, use --psis")
			}
			cfg, logger, err := a.load()
			if err != nil {
				return err
			}
			train, _, mean, std, err := loadData(cfg)
			if err != nil {
				return err
			}
			records, err := trainer.Sweep(cmd.Context(), cfg, logger, train, psis, workers)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-12s %-12s %s\n", "psi", "bound", "objective", "record")
			base := strings.TrimSuffix(cfg.Output, filepath.Ext(cfg.Output))
			for _, r := range records {
				r.InputMean, r.InputStd = mean, std
				path := fmt.Sprintf("%s-psi%g.json", base, r.Psi)
				if err := utils.SaveRecord(path, r); err != nil {
					return err
				}
				objective := 0.0
				if n := len(r.Stages); n > 0 {
					objective = r.Stages[n-1].Objective
				}
				fmt.Fprintf(out, "%-10g %-12.6g %-12.6g %s\n", r.Psi, r.Bound, objective, path)
			}
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&psis, "psis", nil, "Lipschitz bounds to train for")
	cmd.Flags().IntVar(&workers, "workers", 0, "Maximum parallel runs (0 = unlimited)")
	a.addTrainingFlags(cmd)
	return cmd
}

func (a *app) certifyCmd() *cobra.Command {
	var psi float64
	cmd := &cobra.Command{
		Use:   "certify <model.json>",
		Short: "Print the trivial and certified Lipschitz bounds of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := utils.LoadRecord(args[0])
			if err != nil {
				return err
			}
			if psi <= 0 {
				psi = record.Psi
			}
			return certify(cmd.OutOrStdout(), record, psi)
		},
	}
	cmd.Flags().Float64Var(&psi, "psi", 0, "Bound to check (defaults to the trained bound)")
	return cmd
}

// certify reports the bounds of record. Without stored multipliers NormT is
// built at psi, or at twice the trivial bound when psi is not set.
func certify(out io.Writer, record *utils.ModelRecord, psi float64) error {
	net, err := record.Network()
	if err != nil {
		return err
	}
	topo, err := lipschitz.NewTopology(record.Architecture...)
	if err != nil {
		return err
	}
	W := nn.Weights(net.Layers)
	trivial := lipschitz.TrivialBound(W)

	T, err := record.TVectors()
	if err != nil {
		return err
	}
	source := "stored"
	if T == nil {
		at := psi
		if at <= 0 {
			at = 2 * trivial
		}
		if T, err = lipschitz.NormT(topo, W, at); err != nil {
			return err
		}
		source = fmt.Sprintf("NormT at %g", at)
	}
	certified, err := lipschitz.CertifiedBound(topo, W, T)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Model:           %s (%s, run %s)\n", topo, record.Method, record.RunID)
	fmt.Fprintf(out, "Trivial bound:   %g\n", trivial)
	fmt.Fprintf(out, "Certified bound: %g (%s multipliers)\n", certified, source)
	if psi > 0 {
		fmt.Fprintf(out, "Feasible at %g:  %v\n", psi, certified <= psi)
	}
	return nil
}

func (a *app) evaluateCmd() *cobra.Command {
	var lossName string
	cmd := &cobra.Command{
		Use:   "evaluate <model.json> <data.csv>",
		Short: "Report accuracy and mean loss of a model on a CSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			record, err := utils.LoadRecord(args[0])
			if err != nil {
				return err
			}
			net, err := record.Network()
			if err != nil {
				return err
			}
			loss, err := nn.LossByName(lossName)
			if err != nil {
				return err
			}
			widths := record.Architecture
			data, err := nn.LoadCSV(args[1], widths[0], widths[len(widths)-1])
			if err != nil {
				return err
			}
			if record.InputMean != nil {
				data.Apply(record.InputMean, record.InputStd)
			}
			score, err := net.Evaluate(data, loss)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Samples:  %d\nAccuracy: %.4f\nLoss:     %.6f\n", data.Len(), score.Accuracy, score.Loss)
			return nil
		},
	}
	cmd.Flags().StringVar(&lossName, "loss", "crossentropy", "Loss function: crossentropy, squared")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "liptrain.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := utils.WriteConfig(path, utils.DefaultConfig()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	})
	return cmd
}

func logScore(logger logrus.FieldLogger, record *utils.ModelRecord, data *nn.Dataset, lossName string) error {
	net, err := record.Network()
	if err != nil {
		return err
	}
	loss, err := nn.LossByName(lossName)
	if err != nil {
		return err
	}
	score, err := net.Evaluate(data, loss)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"accuracy": score.Accuracy,
		"loss":     score.Loss,
	}).Info("test set")
	return nil
}

func iterations(record *utils.ModelRecord) int {
	n := 0
	for _, s := range record.Stages {
		n += s.Iterations
	}
	return n
}
