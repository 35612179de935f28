package nnet

import (
	"context"
	"encoding"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnb666/fundus/stats"
)

// Hyper holds the optimiser settings used for one training step.
type Hyper struct {
	LearningRate float64
	Momentum     float64
}

// Model is the trainable implementation of a network.
type Model interface {
	// TrainBatch updates the weights from one batch and returns the mean loss before the update.
	TrainBatch(b *Batch, h Hyper) (float64, error)
	// Evaluate returns the mean loss and the network outputs, one row of outputs per sample.
	Evaluate(b *Batch) (float64, []float32, error)
	// MarshalBinary returns a snapshot of the weights.
	encoding.BinaryMarshaler
}

// Shared is a live hyperparameter value. The trainer reads it at the start of each epoch and
// callbacks such as AdjustVariable update it.
type Shared struct {
	bits atomic.Uint64
}

// NewShared returns a new value initialised to v.
func NewShared(v float64) *Shared {
	s := new(Shared)
	s.Set(v)
	return s
}

func (s *Shared) Get() float64 { return math.Float64frombits(s.bits.Load()) }

func (s *Shared) Set(v float64) { s.bits.Store(math.Float64bits(v)) }

// Training statistics
type EpochStats struct {
	Epoch        int
	LearningRate float64
	Momentum     float64
	TrainLoss    float64
	ValidLoss    float64
	Score        float64
	Elapsed      time.Duration
}

// TrainingState is owned by the trainer. Callbacks get a copy at the end of each epoch.
// LearningRate and Momentum are the live values read after the training pass.
type TrainingState struct {
	Epoch        int
	TrainLoss    float64
	ValidLoss    float64
	Score        float64
	BestScore    float64
	BestEpoch    int
	LearningRate float64
	Momentum     float64
	Partition    *Partition
	AutoSplit    bool
	Elapsed      time.Duration
	History      []EpochStats
}

// Last returns the stats for the most recent epoch.
func (s TrainingState) Last() EpochStats {
	if len(s.History) == 0 {
		return EpochStats{}
	}
	return s.History[len(s.History)-1]
}

func (s TrainingState) snapshot() TrainingState {
	s.History = append([]EpochStats{}, s.History...)
	return s
}

// Trainer runs the training loop. If Partition is nil a random split of Labels is made using
// EvalSize, this is intended for debug and subset runs only.
type Trainer struct {
	Net          *Network
	Model        Model
	Train, Eval  Iterator
	LearningRate *Shared
	Momentum     *Shared
	Callbacks    Chain
	Partition    *Partition
	Labels       []float32
	MaxEpochs    int
	EvalSize     float64
	Seed         int64
	// Classes is the number of ordinal grades used for the kappa score, default 5.
	Classes int
	Log     *log.Entry
}

func (t *Trainer) check() error {
	switch {
	case t.Net == nil || t.Model == nil || t.Train == nil || t.Eval == nil:
		return errors.Wrap(ErrConfig, "trainer needs a network, model and both iterators")
	case t.LearningRate == nil || t.Momentum == nil:
		return errors.Wrap(ErrConfig, "trainer needs learning rate and momentum values")
	case t.Eval.Augmenting():
		return errors.Wrap(ErrConfig, "evaluation iterator must not augment images")
	case t.MaxEpochs <= 0:
		return errors.Wrapf(ErrConfig, "max epochs must be positive, got %d", t.MaxEpochs)
	}
	return nil
}

func (t *Trainer) classes() int {
	if t.Classes > 0 {
		return t.Classes
	}
	return 5
}

// Split returns the partition to train with and whether it was derived automatically.
func (t *Trainer) Split() (*Partition, bool, error) {
	if t.Partition != nil {
		return t.Partition, false, nil
	}
	if len(t.Labels) == 0 {
		return nil, false, errors.Wrap(ErrConfig, "no fixed partition and no labels to split")
	}
	if t.EvalSize <= 0 || t.EvalSize >= 1 {
		return nil, false, errors.Wrapf(ErrConfig, "eval size must be in (0,1), got %g", t.EvalSize)
	}
	rng := rand.New(rand.NewSource(t.Seed))
	p := RandomSplit(t.Labels, t.EvalSize, !t.Net.Regression, rng)
	return &p, true, nil
}

// Run trains the network for up to MaxEpochs. Cancelling ctx stops the run at the end of the
// current epoch. An error from a callback ends the run and is returned as a *CallbackError;
// the weight update for that epoch and the work done by the earlier callbacks are kept.
func (t *Trainer) Run(ctx context.Context) (TrainingState, error) {
	state := TrainingState{BestScore: math.Inf(-1)}
	if err := t.check(); err != nil {
		return state, err
	}
	logger := t.Log
	if logger == nil {
		logger = log.WithField("component", "trainer")
	}
	part, auto, err := t.Split()
	if err != nil {
		return state, err
	}
	nsamples := math.MaxInt
	if len(t.Labels) > 0 {
		nsamples = len(t.Labels)
	}
	if err = part.Validate(nsamples); err != nil {
		return state, errors.Wrap(ErrConfig, err.Error())
	}
	state.Partition, state.AutoSplit = part, auto
	logger.WithField("auto", auto).Info(part)

	start := time.Now()
	for epoch := 1; epoch <= t.MaxEpochs; epoch++ {
		if err = ctx.Err(); err != nil {
			logger.WithField("epoch", epoch-1).Warn("training stopped")
			return state, err
		}
		hyper := Hyper{LearningRate: t.LearningRate.Get(), Momentum: t.Momentum.Get()}
		trainLoss, err := t.trainEpoch(part, hyper)
		if err != nil {
			return state, errors.Wrapf(err, "epoch %d: train", epoch)
		}
		validLoss, score, err := t.evalEpoch(part)
		if err != nil {
			return state, errors.Wrapf(err, "epoch %d: evaluate", epoch)
		}
		state.Epoch = epoch
		state.TrainLoss, state.ValidLoss, state.Score = trainLoss, validLoss, score
		state.LearningRate, state.Momentum = t.LearningRate.Get(), t.Momentum.Get()
		if score > state.BestScore {
			state.BestScore, state.BestEpoch = score, epoch
		}
		state.Elapsed = time.Since(start)
		state.History = append(state.History, EpochStats{
			Epoch:        epoch,
			LearningRate: hyper.LearningRate,
			Momentum:     hyper.Momentum,
			TrainLoss:    trainLoss,
			ValidLoss:    validLoss,
			Score:        score,
			Elapsed:      state.Elapsed,
		})
		logger.WithFields(log.Fields{"epoch": epoch, "lr": hyper.LearningRate}).Debugf("train loss %.5f valid loss %.5f kappa %.4f", trainLoss, validLoss, score)
		if err = t.Callbacks.Run(state.snapshot()); err != nil {
			logger.WithError(err).Error("epoch callback failed")
			return state, err
		}
	}
	logger.WithFields(log.Fields{"best_epoch": state.BestEpoch, "best_kappa": state.BestScore}).Infof("run time: %s", state.Elapsed.Round(10*time.Millisecond))
	return state, nil
}

// one pass over the training set, returns the mean loss per sample
func (t *Trainer) trainEpoch(part *Partition, hyper Hyper) (float64, error) {
	seq := t.Train.Epoch(part.XTrain, part.YTrain)
	defer seq.Close()
	var sum float64
	n := 0
	for {
		b, ok := seq.Next()
		if !ok {
			break
		}
		loss, err := t.Model.TrainBatch(b, hyper)
		if err != nil {
			return 0, err
		}
		sum += loss * float64(b.Len())
		n += b.Len()
	}
	if err := seq.Err(); err != nil {
		return 0, err
	}
	if n != len(part.XTrain) {
		return 0, errors.Errorf("expected %d training samples, got %d", len(part.XTrain), n)
	}
	return sum / float64(n), nil
}

// one pass over the validation set, returns the mean loss and kappa score
func (t *Trainer) evalEpoch(part *Partition) (float64, float64, error) {
	seq := t.Eval.Epoch(part.XValid, part.YValid)
	defer seq.Close()
	var sum float64
	var truth, pred []int
	nout := t.Net.OutLayer().Nout
	for {
		b, ok := seq.Next()
		if !ok {
			break
		}
		loss, out, err := t.Model.Evaluate(b)
		if err != nil {
			return 0, 0, err
		}
		if len(out) != b.Len()*nout {
			return 0, 0, errors.Errorf("model returned %d outputs for %d samples", len(out), b.Len())
		}
		sum += loss * float64(b.Len())
		truth = append(truth, LabelClasses(b.Labels, t.classes())...)
		pred = append(pred, Decode(out, nout, t.classes())...)
	}
	if err := seq.Err(); err != nil {
		return 0, 0, err
	}
	if len(truth) != len(part.XValid) {
		return 0, 0, errors.Errorf("expected %d validation samples, got %d", len(part.XValid), len(truth))
	}
	score, err := stats.QuadraticKappa(truth, pred, t.classes())
	if err != nil {
		return 0, 0, err
	}
	return sum / float64(len(truth)), score, nil
}

// Decode converts network outputs to class predictions: the most probable class for a
// classification network, or the rounded value clipped to the class range for regression.
func Decode(out []float32, nout, classes int) []int {
	pred := make([]int, len(out)/nout)
	for i := range pred {
		row := out[i*nout : (i+1)*nout]
		if nout == 1 {
			pred[i] = clipClass(row[0], classes)
			continue
		}
		best := 0
		for j, v := range row {
			if v > row[best] {
				best = j
			}
		}
		pred[i] = best
	}
	return pred
}

// LabelClasses rounds labels to the nearest class.
func LabelClasses(labels []float32, classes int) []int {
	res := make([]int, len(labels))
	for i, y := range labels {
		res[i] = clipClass(y, classes)
	}
	return res
}

func clipClass(v float32, classes int) int {
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	c := int(math.Round(float64(v)))
	if c >= classes {
		return classes - 1
	}
	return c
}
