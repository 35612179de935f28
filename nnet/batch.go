package nnet

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jnb666/fundus/img"
	"github.com/jnb666/fundus/num"
)

// Batch of bilateral samples. Inputs[0] holds the left eye and Inputs[1] the right eye images
// for the same subjects in the same order, each laid out as [sample][channel][height][width].
type Batch struct {
	Epoch  int
	Num    int
	Index  []int
	Keys   []string
	Inputs [2][]float32
	Labels []float32
	Shape  []int
}

// Len returns the number of subjects in the batch.
func (b *Batch) Len() int { return len(b.Index) }

// Input returns the normalised image data for one eye of sample i.
func (b *Batch) Input(eye img.Eye, i int) []float32 {
	n := num.Prod(b.Shape)
	return b.Inputs[eye][i*n : (i+1)*n]
}

// Iterator supplies the batches for each epoch.
type Iterator interface {
	// Epoch starts a new pass over the given samples. labels[i] is the label for index[i].
	Epoch(index []int, labels []float32) Sequence
	// Augmenting reports if random transforms are applied to the images.
	Augmenting() bool
}

// Sequence is a single pass over the data. Next returns false when the pass is complete or on
// error. Close must be called to release the workers, it is safe to call before the end.
type Sequence interface {
	Next() (*Batch, bool)
	Err() error
	Close() error
}

// BatchOptions configures a BatchIterator.
type BatchOptions struct {
	BatchSize int
	Channels  int
	Pixels    int
	// Workers is the number of goroutines loading batches, batches may be delivered
	// out of order if this is more than 1.
	Workers int
	// Prefetch is the number of completed batches which may be buffered.
	Prefetch int
	Shuffle  bool
	Seed     int64
}

// BatchIterator loads the image pairs for each batch from a Source and normalises them.
// With a nil Augmenter it is the plain deterministic variant.
type BatchIterator struct {
	BatchOptions
	keys   []string
	source img.Source
	norm   img.NormStats
	aug    img.Augmenter
	log    *log.Entry
	mu     sync.Mutex
	epoch  int
}

// NewBatchIterator creates an iterator over the subjects in keys. Sample indices passed to
// Epoch refer to positions in keys.
func NewBatchIterator(opts BatchOptions, keys []string, source img.Source, norm img.NormStats, aug img.Augmenter) *BatchIterator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Prefetch < 1 {
		opts.Prefetch = opts.Workers
	}
	it := &BatchIterator{BatchOptions: opts, keys: keys, source: source, norm: norm, aug: aug}
	it.log = log.WithFields(log.Fields{"component": "batch", "augment": it.Augmenting()})
	return it
}

// NewIterators returns the training and evaluation iterators for a run. The training iterator
// shuffles and, if augment is set, transforms the images. The evaluation iterator is always plain.
func NewIterators(conf Config, keys []string, source img.Source, norm img.NormStats, threads int) (train, eval *BatchIterator) {
	opts := BatchOptions{
		BatchSize: conf.BatchSize,
		Channels:  conf.Channels,
		Pixels:    conf.Pixels,
		Workers:   conf.Workers,
		Seed:      conf.RandSeed,
	}
	if opts.Workers == 0 {
		opts.Workers = 1
		if conf.Multiprocess {
			opts.Workers = threads
		}
	}
	opts.Prefetch = 2 * opts.Workers
	evalOpts := opts
	opts.Shuffle = true
	var aug img.Augmenter
	if conf.Augment {
		aug = img.NewTransformer(img.FundusTrans)
	}
	return NewBatchIterator(opts, keys, source, norm, aug), NewBatchIterator(evalOpts, keys, source, norm, nil)
}

// Augmenting implements the Iterator interface.
func (it *BatchIterator) Augmenting() bool { return it.aug != nil }

// Batches returns the number of batches for n samples, the last batch may be partial.
func (it *BatchIterator) Batches(n int) int {
	return (n + it.BatchSize - 1) / it.BatchSize
}

// Epoch implements the Iterator interface.
func (it *BatchIterator) Epoch(index []int, labels []float32) Sequence {
	it.mu.Lock()
	it.epoch++
	epoch := it.epoch
	it.mu.Unlock()

	order := make([]int, len(index))
	for i := range order {
		order[i] = i
	}
	if it.Shuffle {
		rng := rand.New(rand.NewSource(it.Seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	s := &sequence{out: make(chan *Batch, it.Prefetch), cancel: cancel}
	if len(index) != len(labels) {
		cancel()
		s.err = errors.Errorf("batch iterator: %d samples but %d labels", len(index), len(labels))
		close(s.out)
		return s
	}
	jobs := make(chan int)
	nbatch := it.Batches(len(index))
	group.Go(func() error {
		defer close(jobs)
		for b := 0; b < nbatch; b++ {
			select {
			case jobs <- b:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	})
	for w := 0; w < it.Workers; w++ {
		group.Go(func() error {
			for b := range jobs {
				start := b * it.BatchSize
				end := min(start+it.BatchSize, len(order))
				batch, err := it.load(epoch, b, order[start:end], index, labels)
				if err != nil {
					return err
				}
				select {
				case s.out <- batch:
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	}
	go func() {
		s.err = group.Wait()
		close(s.out)
	}()
	it.log.WithFields(log.Fields{"epoch": epoch, "samples": len(index), "batches": nbatch}).Debug("start epoch")
	return s
}

// load the images for one batch, each batch gets its own random source so results do not
// depend on which worker runs it
func (it *BatchIterator) load(epoch, bnum int, pos, index []int, labels []float32) (*Batch, error) {
	shape := []int{it.Channels, it.Pixels, it.Pixels}
	nfeat := it.Channels * it.Pixels * it.Pixels
	b := &Batch{
		Epoch:  epoch,
		Num:    bnum,
		Index:  make([]int, len(pos)),
		Keys:   make([]string, len(pos)),
		Labels: make([]float32, len(pos)),
		Shape:  shape,
	}
	for eye := range b.Inputs {
		b.Inputs[eye] = make([]float32, len(pos)*nfeat)
	}
	var rng *rand.Rand
	if it.aug != nil {
		rng = rand.New(rand.NewSource(it.Seed ^ int64(epoch)<<32 ^ int64(bnum)))
	}
	for i, p := range pos {
		ix := index[p]
		if ix < 0 || ix >= len(it.keys) {
			return nil, errors.Errorf("sample index %d out of range for %d subjects", ix, len(it.keys))
		}
		b.Index[i], b.Keys[i], b.Labels[i] = ix, it.keys[ix], labels[p]
		for _, eye := range []img.Eye{img.Left, img.Right} {
			m, err := it.source.Load(b.Keys[i], eye)
			if err != nil {
				return nil, errors.Wrapf(err, "load %s %s eye", b.Keys[i], eye)
			}
			if it.aug != nil {
				m = it.aug.Transform(m, rng)
			}
			if !num.SameShape(m.Shape(), shape) {
				return nil, errors.Errorf("image %s %s has shape %v, expecting %v", b.Keys[i], eye, m.Shape(), shape)
			}
			if err = it.norm.Normalise(m, b.Inputs[eye][i*nfeat:(i+1)*nfeat]); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}

type sequence struct {
	out    chan *Batch
	cancel context.CancelFunc
	err    error
	done   bool
}

func (s *sequence) Next() (*Batch, bool) {
	b, ok := <-s.out
	if !ok {
		s.done = true
	}
	return b, ok
}

func (s *sequence) Err() error {
	if !s.done {
		return nil
	}
	return s.err
}

func (s *sequence) Close() error {
	s.cancel()
	for range s.out {
	}
	s.done = true
	return s.err
}
