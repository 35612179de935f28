package main

import (
	"math/rand"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jnb666/fundus/nnet"
)

func newSplitCmd(o *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "split",
		Short: "write the train / validation split files to the image source directory",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			conf, err := o.config()
			if err != nil {
				return err
			}
			return split(conf, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace existing split files")
	return cmd
}

func split(conf nnet.Config, force bool) error {
	if _, err := nnet.LoadPartition(conf.ImageSource); err == nil && !force {
		return errors.Errorf("split files already exist in %s", conf.ImageSource)
	} else if err != nil && errors.Cause(err) != nnet.ErrMissingSplitFiles {
		log.WithError(err).Warn("existing split files are unreadable - replacing them")
	}
	labels, err := nnet.LoadLabels(conf.LabelFile)
	if err != nil {
		return err
	}
	p := nnet.RandomSplit(labels.Labels, conf.EvalSize, !conf.Regression, rand.New(rand.NewSource(conf.RandSeed)))
	if err = p.Validate(labels.Len()); err != nil {
		return errors.Wrap(nnet.ErrConfig, err.Error())
	}
	if err = p.Save(conf.ImageSource); err != nil {
		return err
	}
	log.WithField("dir", conf.ImageSource).Infof("saved %s", p)
	return nil
}
