package nn

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Dataset stores samples as columns. Targets are one-hot encodings of Labels.
type Dataset struct {
	Inputs  *mat.Dense
	Targets *mat.Dense
	Labels  []int
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Labels) }

// Columns returns views of samples [start, end).
func (d *Dataset) Columns(start, end int) (x, y *mat.Dense) {
	xr, _ := d.Inputs.Dims()
	yr, _ := d.Targets.Dims()
	return d.Inputs.Slice(0, xr, start, end).(*mat.Dense), d.Targets.Slice(0, yr, start, end).(*mat.Dense)
}

// LoadCSV reads a dataset from a file, see ReadCSV.
func LoadCSV(filename string, inputs, classes int) (*Dataset, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()
	d, err := ReadCSV(bufio.NewReader(file), inputs, classes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return d, nil
}

// ReadCSV parses rows of `inputs` features followed by an integer class
// label in the last column. A non-numeric first row is taken as a header.
func ReadCSV(reader io.Reader, inputs, classes int) (*Dataset, error) {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = inputs + 1
	r.TrimLeadingSpace = true

	var features []float64
	var labels []int
	for lineNum := 1; ; lineNum++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) && errors.Is(perr.Err, csv.ErrFieldCount) {
				return nil, errInvalidLine{lineNum: lineNum, splits: len(record), expected: inputs + 1}
			}
			return nil, err
		}
		row, label, err := parseRecord(record, inputs)
		if err != nil {
			if lineNum == 1 {
				continue
			}
			return nil, fmt.Errorf("at line %d: %w", lineNum, err)
		}
		if label < 0 || label >= classes {
			return nil, fmt.Errorf("at line %d: label %d outside [0, %d)", lineNum, label, classes)
		}
		features = append(features, row...)
		labels = append(labels, label)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("no samples")
	}

	n := len(labels)
	// Rows were appended sample-major; samples become columns.
	x := mat.NewDense(n, inputs, features)
	d := &Dataset{
		Inputs:  mat.DenseCopyOf(x.T()),
		Targets: mat.NewDense(classes, n, nil),
		Labels:  labels,
	}
	for j, l := range labels {
		d.Targets.Set(l, j, 1)
	}
	return d, nil
}

func parseRecord(record []string, inputs int) ([]float64, int, error) {
	row := make([]float64, inputs)
	for i := 0; i < inputs; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return nil, 0, fmt.Errorf("parsing input: %w", err)
		}
		row[i] = v
	}
	lv, err := strconv.ParseFloat(strings.TrimSpace(record[inputs]), 64)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing label: %w", err)
	}
	if lv != math.Trunc(lv) {
		return nil, 0, fmt.Errorf("label %g is not an integer", lv)
	}
	return row, int(lv), nil
}

// Normalize rescales every feature to zero mean and unit deviation and
// returns the statistics used. Constant features are only centred.
func (d *Dataset) Normalize() (mean, std []float64) {
	r, c := d.Inputs.Dims()
	mean = make([]float64, r)
	std = make([]float64, r)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, d.Inputs)
		mean[i], std[i] = stat.MeanStdDev(row, nil)
	}
	d.Apply(mean, std)
	return mean, std
}

// Apply rescales features with statistics from another dataset.
func (d *Dataset) Apply(mean, std []float64) {
	d.Inputs.Apply(func(i, _ int, v float64) float64 {
		if std[i] == 0 || math.IsNaN(std[i]) {
			return v - mean[i]
		}
		return (v - mean[i]) / std[i]
	}, d.Inputs)
}

type errInvalidLine struct {
	lineNum  int
	splits   int
	expected int
}

func (e errInvalidLine) Error() string {
	return fmt.Sprintf("at line %d, expected %d values, got %d",
		e.lineNum, e.expected, e.splits)
}
