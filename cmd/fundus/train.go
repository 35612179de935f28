package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jnb666/fundus/nnet"
	"github.com/jnb666/fundus/num"
	"github.com/jnb666/fundus/stats"
)

func newTrainCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "train the network and save the best model",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			conf, err := o.config()
			if err != nil {
				return err
			}
			return train(conf)
		},
	}
}

func train(conf nnet.Config) error {
	run, err := nnet.Prepare(conf, num.NewSystemProbe(conf.Device), nil)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"device": run.Device.Name, "threads": run.Device.Threads, "features": run.Device.Features}).Infof("backend: %s", run.Backend)
	log.Debug(conf)
	log.Debug(run.Net)

	if err = os.MkdirAll(conf.CheckpointDir, 0755); err != nil {
		return err
	}
	if err = conf.Save(filepath.Join(conf.CheckpointDir, conf.Name+".yaml")); err != nil {
		return errors.Wrap(err, "save config")
	}
	metrics, err := newMetrics(conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := metrics.Close(); err != nil {
			log.WithError(err).Error("close metrics")
		}
	}()

	model := nnet.NewPooledModel(run.Net, rand.New(rand.NewSource(conf.RandSeed)))
	trainer := run.Trainer(model, metrics, nnet.FileCheckpointSink{Dir: conf.CheckpointDir})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	state, err := trainer.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.WithField("epoch", state.Epoch).Warn("interrupted")
		return nil
	}
	return err
}

func newMetrics(conf nnet.Config) (stats.Sink, error) {
	if err := os.MkdirAll(conf.MetricsDir, 0755); err != nil {
		return nil, err
	}
	js, err := stats.NewJSONSink(filepath.Join(conf.MetricsDir, conf.Name+".jsonl"))
	if err != nil {
		return nil, err
	}
	return stats.MultiSink{
		stats.NewLogSink(log.WithField("net", conf.Name)),
		js,
		stats.NewPlotSink(conf.MetricsDir, conf.Name),
	}, nil
}
