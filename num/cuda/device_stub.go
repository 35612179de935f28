//go:build !cuda

// Package cuda probes the Cuda runtime and the cuDNN library.
package cuda

import "errors"

var errNoCuda = errors.New("built without cuda support")

// DeviceCount returns zero devices when built without the cuda tag.
func DeviceCount() (int, error) {
	return 0, errNoCuda
}

// DeviceName is not available without the cuda tag.
func DeviceName(dev int) (string, error) {
	return "", errNoCuda
}
