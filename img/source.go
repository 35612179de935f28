package img

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Eye selects one image of a bilateral pair.
type Eye int

const (
	Left Eye = iota
	Right
)

func (e Eye) String() string {
	if e == Right {
		return "right"
	}
	return "left"
}

// Source loads the image for one eye of a subject.
type Source interface {
	Load(key string, eye Eye) (*Image, error)
}

// FileSource reads preprocessed images named <key>_left.<ext> and <key>_right.<ext> from Root.
type FileSource struct {
	Root       string
	Channels   int
	Pixels     int
	Extensions []string
}

// NewFileSource returns a source reading jpeg or png files under root.
func NewFileSource(root string, channels, pixels int) *FileSource {
	return &FileSource{Root: root, Channels: channels, Pixels: pixels, Extensions: []string{".jpeg", ".jpg", ".png"}}
}

// Path returns the first existing file for this subject and eye.
func (s *FileSource) Path(key string, eye Eye) (string, error) {
	base := filepath.Join(s.Root, key+"_"+eye.String())
	for _, ext := range s.Extensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext, nil
		}
	}
	return "", errors.Errorf("no image file found for %s", base)
}

// Load implements the Source interface.
func (s *FileSource) Load(key string, eye Eye) (*Image, error) {
	path, err := s.Path(key, eye)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return FromImage(src, s.Channels, s.Pixels)
}
