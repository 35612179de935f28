package nnet

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// Training configuration settings. Option names are the json tags, these are the keys accepted
// by Resolve, the config file and the command line.
type Config struct {
	Name                string  `json:"name"`
	LearningRate        float64 `json:"learning_rate"`
	StopLearningRate    float64 `json:"stop_learning_rate"`
	Momentum            float64 `json:"momentum"`
	BatchSize           int     `json:"batch_size"`
	Pixels              int     `json:"pixels"`
	Channels            int     `json:"channels"`
	Regression          bool    `json:"regression"`
	Augment             bool    `json:"augment"`
	Subset              int     `json:"subset"`
	CircularizedMeanStd bool    `json:"circularized_normalization"`
	DisableCuDNN        bool    `json:"disable_fast_backend"`
	OnCluster           bool    `json:"on_cluster"`
	ImageSource         string  `json:"image_source"`
	ClusterImageSource  string  `json:"cluster_image_source"`
	LocalImageSource    string  `json:"local_image_source"`
	LabelFile           string  `json:"label_file"`
	MaxEpochs           int     `json:"max_epochs"`
	EvalSize            float64 `json:"eval_size"`
	Multiprocess        bool    `json:"multiprocess"`
	Workers             int     `json:"workers"`
	Device              string  `json:"device"`
	RandSeed            int64   `json:"seed"`
	CheckpointDir       string  `json:"checkpoint_dir"`
	MetricsDir          string  `json:"metrics_dir"`
	LogLevel            string  `json:"log_level"`
}

// DefaultConfig returns the global defaults shared by all networks.
func DefaultConfig() Config {
	return Config{
		Name:               "net_512_ns_bilateral_hf",
		LearningRate:       0.005,
		StopLearningRate:   0.0001,
		Momentum:           0.9,
		BatchSize:          64,
		Pixels:             256,
		Channels:           3,
		Augment:            true,
		ClusterImageSource: "/scratch/kaggle-diabetic-retinopathy/processed_512",
		LocalImageSource:   "../data/processed_512",
		LabelFile:          "../data/trainLabels.csv",
		MaxEpochs:          400,
		EvalSize:           0.1,
		Multiprocess:       true,
		Device:             "auto",
		RandSeed:           42,
		CheckpointDir:      "models",
		MetricsDir:         "stats",
		LogLevel:           "info",
	}
}

// Network specific defaults for the 512 pixel bilateral network.
func netDefaults(c Config) Config {
	c.LearningRate = 0.0025
	c.Pixels = 512
	c.BatchSize = 32
	c.Multiprocess = false
	return c
}

// Resolve applies the network defaults and then the overrides to the base config and selects
// the image source for the environment. Overrides are applied in key order so the result only
// depends on the inputs.
func Resolve(base Config, overrides map[string]string) (Config, error) {
	c := netDefaults(base)
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var err error
	for _, key := range keys {
		if c, err = c.Set(key, overrides[key]); err != nil {
			return Config{}, errors.Wrapf(ErrConfig, "option %s: %s", key, err)
		}
	}
	if _, ok := overrides["image_source"]; !ok {
		if c.OnCluster {
			c.ImageSource = c.ClusterImageSource
		} else {
			c.ImageSource = c.LocalImageSource
		}
	}
	if err = c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the numeric settings, returns an error wrapping ErrConfig if any are out of range.
func (c Config) Validate() error {
	switch {
	case c.Pixels <= 0:
		return errors.Wrapf(ErrConfig, "pixels must be positive, got %d", c.Pixels)
	case c.BatchSize <= 0:
		return errors.Wrapf(ErrConfig, "batch_size must be positive, got %d", c.BatchSize)
	case c.Channels != 1 && c.Channels != 3:
		return errors.Wrapf(ErrConfig, "channels must be 1 or 3, got %d", c.Channels)
	case c.LearningRate <= 0:
		return errors.Wrapf(ErrConfig, "learning_rate must be positive, got %g", c.LearningRate)
	case c.Momentum < 0 || c.Momentum >= 1:
		return errors.Wrapf(ErrConfig, "momentum must be in [0,1), got %g", c.Momentum)
	case c.EvalSize <= 0 || c.EvalSize >= 1:
		return errors.Wrapf(ErrConfig, "eval_size must be in (0,1), got %g", c.EvalSize)
	case c.Subset < 0:
		return errors.Wrapf(ErrConfig, "subset must not be negative, got %d", c.Subset)
	case c.MaxEpochs <= 0:
		return errors.Wrapf(ErrConfig, "max_epochs must be positive, got %d", c.MaxEpochs)
	case c.Workers < 0:
		return errors.Wrapf(ErrConfig, "workers must not be negative, got %d", c.Workers)
	}
	switch c.Device {
	case "auto", "cpu", "gpu":
	default:
		return errors.Wrapf(ErrConfig, "device must be auto, cpu or gpu, got %q", c.Device)
	}
	return nil
}

// Classes returns the number of output classes, or 1 for a regression network.
func (c Config) Classes() int {
	if c.Regression {
		return 1
	}
	return 5
}

// SplitFile returns the path to one of the durable train / validation split files.
func (c Config) SplitFile(name string) string {
	return filepath.Join(c.ImageSource, name+".npy")
}

// Save config to YAML file, the file is replaced atomically.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path))
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Fields returns the option names in declaration order.
func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = optionName(st.Field(i))
	}
	return fld
}

// Get returns the value of the named option, or nil if not found.
func (c Config) Get(key string) interface{} {
	f, ok := c.field(key)
	if !ok {
		return nil
	}
	return reflect.ValueOf(c).FieldByIndex(f.Index).Interface()
}

func (c Config) String() string {
	str := []string{"== Config =="}
	for _, key := range c.Fields() {
		str = append(str, fmt.Sprintf("%-26s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

// Set parses the value and assigns it to the named option.
func (c Config) Set(key, val string) (Config, error) {
	f, ok := c.field(key)
	if !ok {
		return c, fmt.Errorf("unknown option")
	}
	if f.Type.Kind() == reflect.Bool {
		on, err := strconv.ParseBool(val)
		if err != nil {
			return c, err
		}
		return c.SetBool(key, on)
	}
	return c.SetString(key, val)
}

// SetString parses the value for a numeric or string option.
func (c Config) SetString(key, val string) (Config, error) {
	sf, ok := c.field(key)
	if !ok {
		return c, fmt.Errorf("unknown option %s", key)
	}
	f := reflect.ValueOf(&c).Elem().FieldByIndex(sf.Index)
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return c, fmt.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return c, err
}

// SetBool sets a boolean option.
func (c Config) SetBool(key string, val bool) (Config, error) {
	sf, ok := c.field(key)
	if !ok {
		return c, fmt.Errorf("unknown option %s", key)
	}
	f := reflect.ValueOf(&c).Elem().FieldByIndex(sf.Index)
	if f.Type().Kind() == reflect.Bool {
		f.SetBool(val)
		return c, nil
	}
	return c, fmt.Errorf("invalid type for SetBool: %v", f.Type().Kind())
}

func (c Config) field(key string) (reflect.StructField, bool) {
	st := reflect.TypeOf(c)
	for i := 0; i < st.NumField(); i++ {
		if f := st.Field(i); optionName(f) == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func optionName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if name := strings.Split(tag, ",")[0]; name != "" {
		return name
	}
	return f.Name
}
