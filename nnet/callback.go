package nnet

import (
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnb666/fundus/stats"
)

// Callback is invoked once at the end of each epoch with a copy of the training state.
// A callback may only update the values it owns, never the state itself.
type Callback interface {
	Name() string
	OnEpochFinished(state TrainingState) error
}

// Chain is the ordered list of epoch callbacks. The order is part of the contract:
// the learning rate is adjusted before metrics are recorded and the checkpoint is written last.
type Chain []Callback

// Run invokes each callback in order, stopping at the first error which is returned as a *CallbackError.
func (c Chain) Run(state TrainingState) error {
	for i, cb := range c {
		if err := cb.OnEpochFinished(state); err != nil {
			return &CallbackError{Epoch: state.Epoch, Index: i, Callback: cb.Name(), Err: err}
		}
	}
	return nil
}

// AdjustVariable sets the target to a value interpolated linearly from Start at the first
// epoch to Stop at epoch Epochs. The value depends only on the epoch number.
type AdjustVariable struct {
	Target      *Shared
	Start, Stop float64
	Epochs      int
}

func (a *AdjustVariable) Name() string { return "adjust_variable" }

// Value returns the setting after the given epoch.
func (a *AdjustVariable) Value(epoch int) float64 {
	if a.Epochs <= 1 || epoch <= 1 {
		return a.Start
	}
	if epoch >= a.Epochs {
		return a.Stop
	}
	return a.Start + (a.Stop-a.Start)*float64(epoch-1)/float64(a.Epochs-1)
}

func (a *AdjustVariable) OnEpochFinished(state TrainingState) error {
	if a.Target == nil {
		return errors.New("no target value to adjust")
	}
	a.Target.Set(a.Value(state.Epoch))
	return nil
}

// Recorder sends the epoch statistics to a metrics sink.
type Recorder struct {
	Sink stats.Sink
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) OnEpochFinished(state TrainingState) error {
	return r.Sink.Record(stats.EpochRecord{
		Epoch:        state.Epoch,
		TrainLoss:    state.TrainLoss,
		ValidLoss:    state.ValidLoss,
		Score:        state.Score,
		LearningRate: state.LearningRate,
		Momentum:     state.Momentum,
		Best:         state.BestEpoch == state.Epoch,
		Elapsed:      state.Elapsed,
	})
}

// ModelSaver writes a checkpoint each time the validation score strictly improves on the best
// score it has seen.
type ModelSaver struct {
	Sink   CheckpointSink
	Model  Model
	Net    *Network
	Config Config
	best   float64
	saved  int
}

// NewModelSaver returns a saver which will write the first finite score.
func NewModelSaver(sink CheckpointSink, model Model, net *Network, conf Config) *ModelSaver {
	return &ModelSaver{Sink: sink, Model: model, Net: net, Config: conf, best: math.Inf(-1)}
}

func (m *ModelSaver) Name() string { return "model_saver" }

// Best returns the best score and the epoch it was saved at, or 0 if nothing has been saved.
func (m *ModelSaver) Best() (float64, int) { return m.best, m.saved }

func (m *ModelSaver) OnEpochFinished(state TrainingState) error {
	if !(state.Score > m.best) {
		return nil
	}
	weights, err := m.Model.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "snapshot weights")
	}
	cp := Checkpoint{
		Name:      m.Config.Name,
		Epoch:     state.Epoch,
		Score:     state.Score,
		ValidLoss: state.ValidLoss,
		Config:    m.Config,
		Weights:   weights,
	}
	if m.Net != nil {
		cp.Backend = m.Net.Backend
		cp.Layers = m.Net.Marshal()
	}
	if err = m.Sink.Save(cp); err != nil {
		return err
	}
	log.WithFields(log.Fields{"component": "checkpoint", "epoch": state.Epoch}).Infof("score improved from %.4f to %.4f - saved", m.best, state.Score)
	m.best, m.saved = state.Score, state.Epoch
	return nil
}
