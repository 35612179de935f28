package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// number of epochs used to smooth the validation loss
const emaEpochs = 10

// EpochRecord holds the statistics for one completed epoch.
type EpochRecord struct {
	Epoch        int           `json:"epoch"`
	TrainLoss    float64       `json:"train_loss"`
	ValidLoss    float64       `json:"valid_loss"`
	Score        float64       `json:"kappa"`
	LearningRate float64       `json:"learning_rate"`
	Momentum     float64       `json:"momentum"`
	Best         bool          `json:"best"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Sink accepts the per epoch records.
type Sink interface {
	Record(rec EpochRecord) error
	Close() error
}

// LogSink logs each record. If Every is > 1 only every Every epochs are logged.
type LogSink struct {
	Log      *log.Entry
	Every    int
	avgValid float64
}

// NewLogSink returns a sink which logs every epoch to the given logger.
func NewLogSink(logger *log.Entry) *LogSink {
	return &LogSink{Log: logger, Every: 1}
}

func (s *LogSink) Record(r EpochRecord) error {
	s.avgValid = EMA(s.avgValid).Add(r.ValidLoss, emaEpochs)
	if s.Every > 1 && r.Epoch%s.Every != 0 {
		return nil
	}
	msg := fmt.Sprintf("epoch %3d: train loss =%8.5f  valid loss =%8.5f  valid avg =%8.5f  kappa =%7.4f",
		r.Epoch, r.TrainLoss, r.ValidLoss, s.avgValid, r.Score)
	if r.Best {
		msg += " *"
	}
	s.Log.WithFields(log.Fields{
		"lr":      r.LearningRate,
		"elapsed": r.Elapsed.Round(10 * time.Millisecond),
	}).Info(msg)
	return nil
}

func (s *LogSink) Close() error { return nil }

// JSONSink appends one JSON object per epoch to a file.
type JSONSink struct {
	f   *os.File
	enc *json.Encoder
}

// NewJSONSink creates or truncates the file at path.
func NewJSONSink(path string) (*JSONSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &JSONSink{f: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONSink) Record(r EpochRecord) error {
	return s.enc.Encode(r)
}

func (s *JSONSink) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// MultiSink sends each record to all of its sinks. Every sink is called even if an earlier one fails.
type MultiSink []Sink

func (m MultiSink) Record(r EpochRecord) error {
	var err error
	for _, s := range m {
		if e := s.Record(r); e != nil {
			err = multierror.Append(err, e)
		}
	}
	return err
}

func (m MultiSink) Close() error {
	var err error
	for _, s := range m {
		if e := s.Close(); e != nil {
			err = multierror.Append(err, e)
		}
	}
	return err
}

// MemorySink keeps all records in memory.
type MemorySink struct {
	Records []EpochRecord
}

func (m *MemorySink) Record(r EpochRecord) error {
	m.Records = append(m.Records, r)
	return nil
}

func (m *MemorySink) Close() error { return nil }
