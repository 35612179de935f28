package nnet

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// names of the durable train / validation split files
var SplitFiles = []string{"X_train", "X_valid", "y_train", "y_valid"}

var (
	keyColumns   = []string{"image", "subject", "key", "id"}
	labelColumns = []string{"level", "label", "y"}
)

// LabelTable is the ordered list of subjects with their labels. The position of each subject
// in the table is its sample index.
type LabelTable struct {
	Keys   []string
	Labels []float32
}

// LoadLabels reads a CSV label file with a header row. Rows keyed by image name with a _left
// or _right suffix are combined into one entry per subject, labelled with the more severe
// grade of the two eyes. Subjects keep the order in which they first appear.
func LoadLabels(path string) (*LabelTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadLabels(f)
	return t, errors.Wrapf(err, "load labels from %s", path)
}

// ReadLabels reads CSV label data from r.
func ReadLabels(r io.Reader) (*LabelTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	keyCol, labelCol := findColumn(header, keyColumns), findColumn(header, labelColumns)
	if keyCol < 0 || labelCol < 0 {
		return nil, errors.Errorf("header %v must have key (%s) and label (%s) columns",
			header, strings.Join(keyColumns, "|"), strings.Join(labelColumns, "|"))
	}
	t := &LabelTable{}
	lookup := map[string]int{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		label, err := strconv.ParseFloat(strings.TrimSpace(rec[labelCol]), 32)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		key := subjectKey(strings.TrimSpace(rec[keyCol]))
		if ix, ok := lookup[key]; ok {
			if float32(label) > t.Labels[ix] {
				t.Labels[ix] = float32(label)
			}
			continue
		}
		lookup[key] = len(t.Keys)
		t.Keys = append(t.Keys, key)
		t.Labels = append(t.Labels, float32(label))
	}
	if len(t.Keys) == 0 {
		return nil, errors.New("no labels found")
	}
	return t, nil
}

func findColumn(header, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range names {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func subjectKey(name string) string {
	for _, suffix := range []string{"_left", "_right"} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

// Len returns the number of subjects.
func (t *LabelTable) Len() int { return len(t.Keys) }

// Index returns the sample index domain 0..Len()-1.
func (t *LabelTable) Index() []int {
	index := make([]int, t.Len())
	for i := range index {
		index[i] = i
	}
	return index
}

// Subset returns a table with just the first n subjects, or t if n is zero or not less than Len.
func (t *LabelTable) Subset(n int) *LabelTable {
	if n <= 0 || n >= t.Len() {
		return t
	}
	return &LabelTable{Keys: t.Keys[:n], Labels: t.Labels[:n]}
}

// CheckClasses verifies that every label is an integer class in 0..classes-1.
func (t *LabelTable) CheckClasses(classes int) error {
	for i, y := range t.Labels {
		if y != float32(math.Trunc(float64(y))) || y < 0 || int(y) >= classes {
			return errors.Errorf("label %g for %s is not a class in 0..%d", y, t.Keys[i], classes-1)
		}
	}
	return nil
}

// Partition is a fixed split of the sample index into training and validation sets.
type Partition struct {
	XTrain, XValid []int
	YTrain, YValid []float32
}

func (p Partition) String() string {
	return fmt.Sprintf("partition: train=%d valid=%d", len(p.XTrain), len(p.XValid))
}

// Validate checks the partition is consistent for a table with n subjects.
func (p Partition) Validate(n int) error {
	if len(p.XTrain) != len(p.YTrain) || len(p.XValid) != len(p.YValid) {
		return errors.Errorf("split sizes do not match: X_train=%d y_train=%d X_valid=%d y_valid=%d",
			len(p.XTrain), len(p.YTrain), len(p.XValid), len(p.YValid))
	}
	if len(p.XTrain) == 0 || len(p.XValid) == 0 {
		return errors.Errorf("training and validation sets must not be empty: %s", p)
	}
	seen := make(map[int]bool, len(p.XTrain)+len(p.XValid))
	for _, set := range [][]int{p.XTrain, p.XValid} {
		for _, ix := range set {
			if ix < 0 || ix >= n {
				return errors.Errorf("sample index %d out of range for %d subjects", ix, n)
			}
			if seen[ix] {
				return errors.Errorf("sample index %d appears more than once", ix)
			}
			seen[ix] = true
		}
	}
	return nil
}

// LoadPartition reads the four split files from dir. Returns an error wrapping
// ErrMissingSplitFiles if any are not present.
func LoadPartition(dir string) (Partition, error) {
	var p Partition
	var missing []string
	for _, name := range SplitFiles {
		if _, err := os.Stat(splitPath(dir, name)); err != nil {
			missing = append(missing, name+".npy")
		}
	}
	if len(missing) > 0 {
		return p, errors.Wrapf(ErrMissingSplitFiles, "%s not found in %s", strings.Join(missing, ", "), dir)
	}
	var err error
	if p.XTrain, err = readInts(splitPath(dir, "X_train")); err != nil {
		return p, err
	}
	if p.XValid, err = readInts(splitPath(dir, "X_valid")); err != nil {
		return p, err
	}
	if p.YTrain, err = readFloats(splitPath(dir, "y_train")); err != nil {
		return p, err
	}
	p.YValid, err = readFloats(splitPath(dir, "y_valid"))
	return p, err
}

// Save writes the partition as numpy array files to dir.
func (p Partition) Save(dir string) error {
	x := [][]int{p.XTrain, p.XValid}
	y := [][]float32{p.YTrain, p.YValid}
	for i := 0; i < 2; i++ {
		xs := make([]int64, len(x[i]))
		for j, v := range x[i] {
			xs[j] = int64(v)
		}
		if err := writeNpy(splitPath(dir, SplitFiles[i]), xs); err != nil {
			return err
		}
		if err := writeNpy(splitPath(dir, SplitFiles[i+2]), y[i]); err != nil {
			return err
		}
	}
	return nil
}

func splitPath(dir, name string) string {
	return filepath.Join(dir, name+".npy")
}

func writeNpy(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = npyio.Write(f, data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}

// read a 1d numeric array, converted to float64
func readNpy(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if shape := r.Header.Descr.Shape; len(shape) > 2 || (len(shape) == 2 && shape[1] != 1) {
		return nil, errors.Errorf("%s: expecting a vector, got shape %v", path, shape)
	}
	var out []float64
	switch dtype := r.Header.Descr.Type; dtype {
	case "<i8":
		var v []int64
		err = r.Read(&v)
		out = convert(v)
	case "<i4":
		var v []int32
		err = r.Read(&v)
		out = convert(v)
	case "<f4":
		var v []float32
		err = r.Read(&v)
		out = convert(v)
	case "<f8":
		err = r.Read(&out)
	default:
		return nil, errors.Errorf("%s: unsupported dtype %s", path, dtype)
	}
	return out, errors.Wrapf(err, "read %s", path)
}

func convert[T int32 | int64 | float32](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func readInts(path string) ([]int, error) {
	vals, err := readNpy(path)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(vals))
	for i, v := range vals {
		if v != math.Trunc(v) {
			return nil, errors.Errorf("%s: non integer sample index %g", path, v)
		}
		out[i] = int(v)
	}
	return out, nil
}

func readFloats(path string) ([]float32, error) {
	vals, err := readNpy(path)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out, nil
}

// RandomSplit divides the samples 0..len(labels)-1 into training and validation sets with
// round(evalSize*n) validation samples. If stratify is set the label classes are kept in the
// same proportions in both sets, largest remainders get the extra samples.
// Both sets are returned in ascending index order.
func RandomSplit(labels []float32, evalSize float64, stratify bool, rng *rand.Rand) Partition {
	n := len(labels)
	nvalid := int(math.Round(evalSize * float64(n)))
	valid := make(map[int]bool, nvalid)
	if !stratify {
		for _, ix := range rng.Perm(n)[:nvalid] {
			valid[ix] = true
		}
	} else {
		groups := map[float32][]int{}
		var classes []float32
		for i, y := range labels {
			if _, ok := groups[y]; !ok {
				classes = append(classes, y)
			}
			groups[y] = append(groups[y], i)
		}
		sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
		quota := make([]int, len(classes))
		frac := make([]float64, len(classes))
		total := 0
		for i, c := range classes {
			q := evalSize * float64(len(groups[c]))
			quota[i] = int(math.Floor(q))
			frac[i] = q - float64(quota[i])
			total += quota[i]
		}
		order := make([]int, len(classes))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return frac[order[i]] > frac[order[j]] })
		for i := 0; total < nvalid && i < len(order); i++ {
			quota[order[i]]++
			total++
		}
		for i, c := range classes {
			members := groups[c]
			for _, j := range rng.Perm(len(members))[:quota[i]] {
				valid[members[j]] = true
			}
		}
	}
	var p Partition
	for i, y := range labels {
		if valid[i] {
			p.XValid = append(p.XValid, i)
			p.YValid = append(p.YValid, y)
		} else {
			p.XTrain = append(p.XTrain, i)
			p.YTrain = append(p.YTrain, y)
		}
	}
	return p
}
