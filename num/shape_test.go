package num

import "testing"

type testCase struct {
	in, out, pad   int
	filter, stride int
	padding, err   bool
}

func TestOutSize(t *testing.T) {
	tests := []testCase{
		{in: 11, filter: 6, stride: 5, out: 2},
		{in: 13, filter: 6, stride: 5, out: 2},
		{in: 11, filter: 6, stride: 5, padding: true, out: 2},
		{in: 13, filter: 6, stride: 5, padding: true, out: 3, pad: 2},
		{in: 28, filter: 5, stride: 1, out: 24},
		{in: 28, filter: 5, stride: 1, padding: true, out: 28, pad: 2},
		{in: 512, filter: 5, stride: 2, out: 254},
		{in: 127, filter: 2, stride: 2, out: 63},
		{in: 127, filter: 3, stride: 1, padding: true, out: 127, pad: 1},
		{in: 4, filter: 5, stride: 1, err: true},
		{in: 8, filter: 2, stride: 0, err: true},
	}
	for _, test := range tests {
		out, pad, err := OutSize(test.in, test.filter, test.stride, test.padding)
		t.Logf("in=%d filter=%d stride=%d padding=%v => out=%d pad=%d err=%v", test.in, test.filter, test.stride, test.padding, out, pad, err)
		if (err != nil) != test.err {
			t.Error("**ERROR**")
			continue
		}
		if !test.err && (out != test.out || pad != test.pad) {
			t.Error("**ERROR**")
		}
	}
}

func TestProd(t *testing.T) {
	if Prod([]int{3, 4, 5}) != 60 || Prod(nil) != 1 {
		t.Error("Prod mismatch")
	}
	if !SameShape([]int{1, 2}, []int{1, 2}) || SameShape([]int{1, 2}, []int{2, 1}) || SameShape([]int{1}, []int{1, 1}) {
		t.Error("SameShape mismatch")
	}
}
