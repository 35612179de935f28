package num

import "fmt"

// Prod returns the product of the given dimensions.
func Prod(arr []int) int {
	prod := 1
	for _, x := range arr {
		prod *= x
	}
	return prod
}

// SameShape checks if two shapes are equal
func SameShape(xd, yd []int) bool {
	if len(xd) != len(yd) {
		return false
	}
	for i := range xd {
		if xd[i] != yd[i] {
			return false
		}
	}
	return true
}

// OutSize calculates the output size and padding for a convolution or pooling window along one axis.
// With padding set the output is ceil(in/stride) and the padding needed to cover the input is returned,
// otherwise the filter and stride must tile the input exactly apart from a truncated final window.
func OutSize(in, filter, stride int, padding bool) (out, pad int, err error) {
	if stride < 1 {
		err = fmt.Errorf("stride %d must be positive", stride)
		return
	}
	if filter > in {
		err = fmt.Errorf("filter size %d > input size %d", filter, in)
		return
	}
	var end int
	if padding {
		out = in / stride
		end = filter + (out-1)*stride
		if end < in {
			out++
			end += stride
		}
		pad = (end - in) / 2
		if (end-in)%2 != 0 {
			pad++
		}
	} else {
		out = 1 + (in-filter)/stride
	}
	return
}
