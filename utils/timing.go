package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics and logs are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for the phases of a run
type TimingStats struct {
	TotalTime       time.Duration
	DataLoadingTime time.Duration
	PretrainTime    time.Duration
	TrainTime       time.Duration
	CertifyTime     time.Duration
}

// Measure runs fn and adds its wall time to *phase.
func Measure(phase *time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	*phase += time.Since(start)
	return err
}

func percent(part, total time.Duration) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats, iterations int) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Iterations completed: %d\n", iterations)
	if iterations > 0 {
		fmt.Fprintf(Output, "Average time per iteration: %.1fµs\n", DurationUS(stats.TrainTime/time.Duration(iterations)))
	}
	fmt.Fprintln(Output, "\nBreakdown by phase:")
	fmt.Fprintf(Output, "  Data loading: %v (%.1f%%)\n", stats.DataLoadingTime, percent(stats.DataLoadingTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Pretraining: %v (%.1f%%)\n", stats.PretrainTime, percent(stats.PretrainTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Training: %v (%.1f%%)\n", stats.TrainTime, percent(stats.TrainTime, stats.TotalTime))
	fmt.Fprintf(Output, "  Certification: %v (%.1f%%)\n", stats.CertifyTime, percent(stats.CertifyTime, stats.TotalTime))
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
