package stats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// QuadraticKappa returns the quadratic weighted kappa agreement between two ratings on the
// ordinal scale 0..classes-1. It is 1 for complete agreement and around 0 for chance agreement.
// If both raters only ever use one and the same class the result is 1.
func QuadraticKappa(rater1, rater2 []int, classes int) (float64, error) {
	if len(rater1) != len(rater2) {
		return 0, fmt.Errorf("kappa: rating lengths differ: %d and %d", len(rater1), len(rater2))
	}
	if len(rater1) == 0 {
		return 0, fmt.Errorf("kappa: no ratings")
	}
	if classes < 2 {
		return 0, fmt.Errorf("kappa: need at least 2 classes")
	}
	observed := mat.NewDense(classes, classes, nil)
	hist1 := mat.NewVecDense(classes, nil)
	hist2 := mat.NewVecDense(classes, nil)
	for i, a := range rater1 {
		b := rater2[i]
		if a < 0 || a >= classes || b < 0 || b >= classes {
			return 0, fmt.Errorf("kappa: rating out of range at %d: %d %d", i, a, b)
		}
		observed.Set(a, b, observed.At(a, b)+1)
		hist1.SetVec(a, hist1.AtVec(a)+1)
		hist2.SetVec(b, hist2.AtVec(b)+1)
	}
	expected := mat.NewDense(classes, classes, nil)
	expected.Outer(1/float64(len(rater1)), hist1, hist2)

	weights := mat.NewDense(classes, classes, nil)
	weights.Apply(func(i, j int, v float64) float64 {
		d := float64(i - j)
		return d * d / float64((classes-1)*(classes-1))
	}, weights)

	var wo, we mat.Dense
	wo.MulElem(weights, observed)
	we.MulElem(weights, expected)
	num, den := mat.Sum(&wo), mat.Sum(&we)
	if den == 0 {
		return 1, nil
	}
	return 1 - num/den, nil
}
