package nnet

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// Checkpoint is a snapshot of the model weights with the epoch and score which triggered it.
type Checkpoint struct {
	Name      string
	Epoch     int
	Score     float64
	ValidLoss float64
	Saved     time.Time
	Config    Config
	Backend   string
	Layers    []LayerConfig
	Weights   []byte
}

// CheckpointSink persists checkpoints.
type CheckpointSink interface {
	Save(cp Checkpoint) error
}

// FileCheckpointSink writes each checkpoint in gob format to <Dir>/<name>.gob, replacing the
// previous one. The file is written to a temporary name and renamed so it is never left partial.
type FileCheckpointSink struct {
	Dir string
}

// Path returns the checkpoint file for the named model.
func (s FileCheckpointSink) Path(name string) string {
	return filepath.Join(s.Dir, name+".gob")
}

func (s FileCheckpointSink) Save(cp Checkpoint) error {
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}
	if cp.Saved.IsZero() {
		cp.Saved = time.Now()
	}
	path := s.Path(cp.Name)
	f, err := os.CreateTemp(s.Dir, "."+cp.Name+"*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err = gob.NewEncoder(f).Encode(&cp); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encode checkpoint")
	}
	if err = f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadCheckpoint reads a checkpoint file written by FileCheckpointSink.
func LoadCheckpoint(path string) (Checkpoint, error) {
	var cp Checkpoint
	f, err := os.Open(path)
	if err != nil {
		return cp, err
	}
	defer f.Close()
	err = gob.NewDecoder(f).Decode(&cp)
	return cp, errors.Wrapf(err, "decode checkpoint %s", path)
}
