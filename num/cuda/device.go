//go:build cuda

// Package cuda probes the Cuda runtime and the cuDNN library.
package cuda

import "gorgonia.org/cu"

// DeviceCount returns the number of Cuda capable devices.
func DeviceCount() (int, error) {
	return cu.NumDevices()
}

// DeviceName returns the name of the given device
func DeviceName(dev int) (string, error) {
	return cu.Device(dev).Name()
}
