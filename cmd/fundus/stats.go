package main

import (
	"math/rand"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jnb666/fundus/img"
	"github.com/jnb666/fundus/nnet"
)

func newStatsCmd(o *options) *cobra.Command {
	var samples int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "calculate the per channel mean and standard deviation of the images",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			conf, err := o.config()
			if err != nil {
				return err
			}
			return imageStats(conf, samples)
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "n", 500, "number of subjects to sample, 0 for all")
	return cmd
}

func imageStats(conf nnet.Config, samples int) error {
	labels, err := nnet.LoadLabels(conf.LabelFile)
	if err != nil {
		return err
	}
	keys := labels.Keys
	if samples > 0 && samples < len(keys) {
		perm := rand.New(rand.NewSource(conf.RandSeed)).Perm(len(keys))[:samples]
		keys = make([]string, samples)
		for i, ix := range perm {
			keys[i] = labels.Keys[ix]
		}
	}
	src := img.NewFileSource(conf.ImageSource, conf.Channels, conf.Pixels)
	var images []*img.Image
	for _, key := range keys {
		for _, eye := range []img.Eye{img.Left, img.Right} {
			m, err := src.Load(key, eye)
			if err != nil {
				return err
			}
			images = append(images, m)
		}
	}
	st := img.GetStats(images, conf.CircularizedMeanStd)
	if err = st.Save(conf.ImageSource, conf.CircularizedMeanStd); err != nil {
		return err
	}
	log.WithFields(log.Fields{"images": len(images), "file": img.StatsFile(conf.ImageSource, conf.CircularizedMeanStd)}).
		Infof("mean=%v std=%v", st.Mean, st.StdDev)
	return nil
}
