package transformer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/qicqock/Transformer-Reimplementation/params"
)

// Checkpoints serialize the architecture config plus every parameter matrix
// in Parameters() order via gob. The snapshot is opaque to the numerical
// core; only this file knows the layout.

type tensorData struct {
	Rows, Cols int
	Data       []float64
}

type checkpointData struct {
	Config  params.ModelConfig
	Tensors []tensorData
}

// Save writes the model weights to path, creating parent directories.
func Save(m *Transformer, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	ps := m.Parameters()
	data := checkpointData{Config: m.Config, Tensors: make([]tensorData, len(ps))}
	for i, p := range ps {
		r, c := p.Dims()
		raw := mat.DenseCopyOf(p).RawMatrix()
		data.Tensors[i] = tensorData{Rows: r, Cols: c, Data: raw.Data}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(&data); err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", path, err)
	}
	return nil
}

// Load rebuilds a model from a checkpoint written by Save.
func Load(path string) (*Transformer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	var data checkpointData
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}

	m, err := NewTransformer(data.Config)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	ps := m.Parameters()
	if len(ps) != len(data.Tensors) {
		return nil, fmt.Errorf("checkpoint: %s holds %d tensors, model wants %d", path, len(data.Tensors), len(ps))
	}
	for i, td := range data.Tensors {
		r, c := ps[i].Dims()
		if r != td.Rows || c != td.Cols {
			return nil, fmt.Errorf("checkpoint: tensor %d is %dx%d, model wants %dx%d", i, td.Rows, td.Cols, r, c)
		}
		ps[i].Copy(mat.NewDense(td.Rows, td.Cols, td.Data))
	}
	return m, nil
}
