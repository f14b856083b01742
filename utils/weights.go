package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"liptrain/nn"
	"liptrain/optimizer"
	"liptrain/tensor"
)

// RecordVersion is written into every ModelRecord.
const RecordVersion = "1.0"

// WeightData represents serializable weight data for a layer
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// LayerWeight contains weights and bias for a layer
type LayerWeight struct {
	Weight *WeightData `json:"weight,omitempty"`
	Bias   *WeightData `json:"bias,omitempty"`
}

// StageRecord is a stage report with its error kept as text.
type StageRecord struct {
	optimizer.StageReport
	Error string `json:"error,omitempty"`
}

// ModelRecord is the exported result of a training run. Bound is the
// certified bound of the stored weights and Certified reports whether it
// stays within Psi. InputMean and InputStd undo the z-score normalisation
// of the training inputs.
type ModelRecord struct {
	Version      string        `json:"version"`
	RunID        uuid.UUID     `json:"run_id"`
	Method       string        `json:"method"`
	Architecture []int         `json:"architecture"`
	Activation   string        `json:"activation"`
	Psi          float64       `json:"psi,omitempty"`
	Bound        float64       `json:"bound,omitempty"`
	Certified    bool          `json:"certified"`
	Layers       []LayerWeight `json:"layers"`
	InputMean    []float64     `json:"input_mean,omitempty"`
	InputStd     []float64     `json:"input_std,omitempty"`
	T            []*WeightData `json:"t,omitempty"`
	Trace        []float64     `json:"trace,omitempty"`
	Stages       []StageRecord `json:"stages,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// NewModelRecord copies the network and multipliers into a record with a
// fresh run id.
func NewModelRecord(method string, net *nn.Network, T []*mat.VecDense) *ModelRecord {
	r := &ModelRecord{
		Version:      RecordVersion,
		RunID:        uuid.New(),
		Method:       method,
		Architecture: append([]int(nil), net.Widths...),
		Activation:   net.Activator.String(),
		Layers:       make([]LayerWeight, len(net.Layers)),
	}
	for i, l := range net.Layers {
		r.Layers[i] = LayerWeight{
			Weight: TensorToWeightData(fmt.Sprintf("layer%d_weight", i), tensor.FromMatrix(l.W)),
			Bias:   TensorToWeightData(fmt.Sprintf("layer%d_bias", i), tensor.FromVector(l.B)),
		}
	}
	for k, t := range T {
		r.T = append(r.T, TensorToWeightData(fmt.Sprintf("t%d", k), tensor.FromVector(t)))
	}
	return r
}

// SetStages stores stage reports, keeping errors as text.
func (r *ModelRecord) SetStages(stages []optimizer.StageReport) {
	r.Stages = make([]StageRecord, len(stages))
	for i, s := range stages {
		r.Stages[i] = StageRecord{StageReport: s}
		if s.Err != nil {
			r.Stages[i].Error = s.Err.Error()
		}
	}
}

// Network rebuilds the network stored in the record.
func (r *ModelRecord) Network() (*nn.Network, error) {
	act, err := nn.ActivatorByName(r.Activation)
	if err != nil {
		return nil, err
	}
	layers := make([]nn.Layer, len(r.Layers))
	for i, lw := range r.Layers {
		if lw.Weight == nil || lw.Bias == nil {
			return nil, fmt.Errorf("layer %d is incomplete", i)
		}
		w, err := WeightDataToTensor(lw.Weight).ToDense()
		if err != nil {
			return nil, fmt.Errorf("layer %d weight: %w", i, err)
		}
		b, err := WeightDataToTensor(lw.Bias).ToVecDense()
		if err != nil {
			return nil, fmt.Errorf("layer %d bias: %w", i, err)
		}
		layers[i] = nn.Layer{W: w, B: b}
	}
	if err := nn.CheckLayers(layers, r.Architecture); err != nil {
		return nil, err
	}
	return &nn.Network{Widths: append([]int(nil), r.Architecture...), Activator: act, Layers: layers}, nil
}

// TVectors returns the stored multipliers, nil when none were saved.
func (r *ModelRecord) TVectors() ([]*mat.VecDense, error) {
	if len(r.T) == 0 {
		return nil, nil
	}
	T := make([]*mat.VecDense, len(r.T))
	for k, wd := range r.T {
		v, err := WeightDataToTensor(wd).ToVecDense()
		if err != nil {
			return nil, fmt.Errorf("t%d: %w", k, err)
		}
		T[k] = v
	}
	return T, nil
}

// SaveRecord saves a model record to a JSON file
func SaveRecord(filepath string, record *ModelRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadRecord loads a model record from a JSON file
func LoadRecord(filepath string) (*ModelRecord, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	var record ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: t.Shape,
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	return &tensor.Tensor{
		Data:  append([]float64(nil), wd.Data...),
		Shape: append([]int(nil), wd.Shape...),
	}
}
