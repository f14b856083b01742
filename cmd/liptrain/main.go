// liptrain: trains neural networks under a certified Lipschitz bound
//
// Usage:
//
//	liptrain train --config=liptrain.yaml --method=barrier --psi=5
//	liptrain certify model.json
//	liptrain evaluate model.json test.csv
//	liptrain sweep --psis=1,2,5 --workers=3
//	liptrain config init liptrain.yaml
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liptrain/nn"
	"liptrain/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries the state shared by the subcommands of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:           "liptrain",
		Short:         "Lipschitz-certified neural network training",
		Long:          "liptrain trains feed-forward networks with a log-barrier on the LipSDP certificate, so that every iterate carries a certified Lipschitz bound.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Configuration file path (YAML)")
	root.PersistentFlags().String("log-level", "", "Log level (overrides config)")
	a.v.BindPFlag("log_level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(a.trainCmd(), a.certifyCmd(), a.evaluateCmd(), a.sweepCmd(), a.configCmd())
	return root
}

// load merges defaults, the config file, the environment and bound flags.
func (a *app) load() (*utils.Config, *logrus.Logger, error) {
	cfg, err := utils.LoadConfig(a.v, a.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := utils.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// trainingFlags maps config keys to the flags shared by train and sweep.
var trainingFlags = map[string]string{
	"method":             "method",
	"architecture":       "architecture",
	"data.train":         "data",
	"data.test":          "test",
	"data.normalize":     "normalize",
	"output":             "output",
	"seed":               "seed",
	"central_path.guard": "guard",
	"psi":                "psi",
}

// addTrainingFlags registers the flags shared by train and sweep. They are
// bound to the config keys only when the command runs, since both commands
// use the same keys.
func (a *app) addTrainingFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("method", "", "Training method: nominal, l2, barrier, barrier-fixed-t, barrier-pretrained")
	flags.String("architecture", "", "Layer widths, e.g. \"2 10 10 3\"")
	flags.String("data", "", "Training CSV (last column is the class label)")
	flags.String("test", "", "Test CSV evaluated after training")
	flags.Bool("normalize", false, "Z-score normalise the inputs")
	flags.String("output", "", "Model record output path")
	flags.Uint64("seed", 0, "Weight initialisation seed")
	flags.Bool("guard", false, "Bound every step by the feasibility line search")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		for key, name := range trainingFlags {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := a.v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		return nil
	}
}

// loadData reads the training set and, when configured, the test set with
// the training set's normalisation.
func loadData(cfg *utils.Config) (train, test *nn.Dataset, mean, std []float64, err error) {
	if cfg.Data.Train == "" {
		return nil, nil, nil, nil, fmt.Errorf("no training data, set data.train or --data")
	}
	widths, err := cfg.Widths()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	inputs, classes := widths[0], widths[len(widths)-1]
	if train, err = nn.LoadCSV(cfg.Data.Train, inputs, classes); err != nil {
		return nil, nil, nil, nil, err
	}
	if cfg.Data.Normalize {
		mean, std = train.Normalize()
	}
	if cfg.Data.Test != "" {
		if test, err = nn.LoadCSV(cfg.Data.Test, inputs, classes); err != nil {
			return nil, nil, nil, nil, err
		}
		if mean != nil {
			test.Apply(mean, std)
		}
	}
	return train, test, mean, std, nil
}
