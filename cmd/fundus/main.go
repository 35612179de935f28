// Command fundus trains the bilateral diabetic retinopathy network and manages its data files.
package main

import (
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Fatal("fundus failed")
	}
}
