package nnet

import (
	"math/rand"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jnb666/fundus/img"
	"github.com/jnb666/fundus/num"
	"github.com/jnb666/fundus/stats"
)

// Run holds everything assembled for one training run.
type Run struct {
	Config    Config
	Device    num.Descriptor
	Backend   num.Backend
	Net       *Network
	Labels    *LabelTable
	Norm      img.NormStats
	Partition *Partition
	Train     *BatchIterator
	Eval      *BatchIterator
}

// Prepare validates the configuration, loads the labels, split files and normalisation stats,
// selects the backend and builds the network. All of these are checked before the batch
// iterators are created. If source is nil images are read from conf.ImageSource.
func Prepare(conf Config, probe num.Probe, source img.Source) (*Run, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithField("component", "prepare")
	r := &Run{Config: conf}
	labels, err := LoadLabels(conf.LabelFile)
	if err != nil {
		return nil, err
	}
	if !conf.Regression {
		if err = labels.CheckClasses(conf.Classes()); err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
	}
	r.Labels = labels.Subset(conf.Subset)
	logger.Infof("loaded %d of %d subjects from %s", r.Labels.Len(), labels.Len(), conf.LabelFile)

	if conf.Subset == 0 {
		p, err := LoadPartition(conf.ImageSource)
		if err != nil {
			return nil, err
		}
		if err = p.Validate(r.Labels.Len()); err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
		r.Partition = &p
		logger.Infof("fixed %s", p)
	} else {
		// the split files are sized for the full data set
		p := RandomSplit(r.Labels.Labels, conf.EvalSize, !conf.Regression, rand.New(rand.NewSource(conf.RandSeed)))
		if err = p.Validate(r.Labels.Len()); err != nil {
			return nil, errors.Wrapf(ErrConfig, "subset of %d: %s", conf.Subset, err)
		}
	}
	if r.Norm, err = img.LoadNormStats(conf.ImageSource, conf.CircularizedMeanStd); err != nil {
		return nil, errors.Wrap(err, "load normalisation stats")
	}
	if len(r.Norm.Mean) != conf.Channels {
		return nil, errors.Wrapf(ErrConfig, "%s has stats for %d channels, expecting %d",
			img.StatsFile(conf.ImageSource, conf.CircularizedMeanStd), len(r.Norm.Mean), conf.Channels)
	}
	r.Device = probe.Device()
	r.Backend = num.SelectBackend(probe, conf.DisableCuDNN)
	if r.Net, err = Build(conf, r.Backend); err != nil {
		return nil, err
	}
	if source == nil {
		source = img.NewFileSource(conf.ImageSource, conf.Channels, conf.Pixels)
	}
	r.Train, r.Eval = NewIterators(conf, r.Labels.Keys, source, r.Norm, r.Device.Threads)
	return r, nil
}

// Trainer returns a trainer for the run with the standard callback chain: learning rate decay,
// metrics recording and checkpointing, in that order.
func (r *Run) Trainer(model Model, metrics stats.Sink, checkpoints CheckpointSink) *Trainer {
	lr := NewShared(r.Config.LearningRate)
	return &Trainer{
		Net:          r.Net,
		Model:        model,
		Train:        r.Train,
		Eval:         r.Eval,
		LearningRate: lr,
		Momentum:     NewShared(r.Config.Momentum),
		Callbacks: Chain{
			&AdjustVariable{Target: lr, Start: r.Config.LearningRate, Stop: r.Config.StopLearningRate, Epochs: r.Config.MaxEpochs},
			&Recorder{Sink: metrics},
			NewModelSaver(checkpoints, model, r.Net, r.Config),
		},
		Partition: r.Partition,
		Labels:    r.Labels.Labels,
		MaxEpochs: r.Config.MaxEpochs,
		EvalSize:  r.Config.EvalSize,
		Seed:      r.Config.RandSeed,
		Classes:   5,
		Log:       log.WithFields(log.Fields{"component": "trainer", "net": r.Config.Name}),
	}
}
