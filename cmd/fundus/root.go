package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jnb666/fundus/nnet"
)

const envPrefix = "FUNDUS"

type options struct {
	v          *viper.Viper
	configFile string
}

func newRootCmd() *cobra.Command {
	o := &options{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "fundus",
		Short:         "bilateral fundus image network training",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "YAML file with option settings")
	addOptionFlags(flags, o.v)
	o.v.SetEnvPrefix(envPrefix)
	o.v.AutomaticEnv()

	cmd.AddCommand(newTrainCmd(o))
	cmd.AddCommand(newSplitCmd(o))
	cmd.AddCommand(newNetCmd(o))
	cmd.AddCommand(newStatsCmd(o))
	return cmd
}

// one string flag per config option, e.g. learning_rate is set with --learning-rate
func addOptionFlags(flags *pflag.FlagSet, v *viper.Viper) {
	def := nnet.DefaultConfig()
	for _, key := range def.Fields() {
		name := strings.ReplaceAll(key, "_", "-")
		flags.String(name, "", fmt.Sprintf("set %s (default %v)", key, def.Get(key)))
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// overrides collects the options set from the config file, FUNDUS_* environment or flags.
// Flags take priority over the environment which takes priority over the file.
func (o *options) overrides() (map[string]string, error) {
	if o.configFile != "" {
		o.v.SetConfigFile(o.configFile)
		if err := o.v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", o.configFile)
		}
	}
	over := map[string]string{}
	for _, key := range nnet.DefaultConfig().Fields() {
		if o.v.IsSet(key) {
			over[key] = o.v.GetString(key)
		}
	}
	return over, nil
}

// config resolves the run configuration and applies the logging settings from it.
func (o *options) config() (nnet.Config, error) {
	over, err := o.overrides()
	if err != nil {
		return nnet.Config{}, err
	}
	conf, err := nnet.Resolve(nnet.DefaultConfig(), over)
	if err != nil {
		return conf, err
	}
	level, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		return conf, errors.Wrap(nnet.ErrConfig, err.Error())
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.WithField("options", len(over)).Debug("resolved config")
	return conf, nil
}
