package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jnb666/fundus/nnet"
	"github.com/jnb666/fundus/num"
)

func newNetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "net",
		Short: "print the resolved config and network layers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := o.config()
			if err != nil {
				return err
			}
			backend := num.SelectBackend(num.NewSystemProbe(conf.Device), conf.DisableCuDNN)
			net, err := nnet.Build(conf, backend)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conf)
			fmt.Fprintln(cmd.OutOrStdout(), net)
			return nil
		},
	}
}
