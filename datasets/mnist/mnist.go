// Package mnist loads the MNIST handwritten digit dataset from gzipped IDX files.
package mnist

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const InferSetImg = "t10k-images-idx3-ubyte.gz"
const InferSetVal = "t10k-labels-idx1-ubyte.gz"
const TrainSetImg = "train-images-idx3-ubyte.gz"
const TrainSetVal = "train-labels-idx1-ubyte.gz"

const inferDigImg = "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"
const inferDigVal = "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"
const trainDigImg = "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"
const trainDigVal = "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"

// Files maps every dataset file name to its sha256 digest.
var Files = map[string]string{
	InferSetImg: inferDigImg,
	InferSetVal: inferDigVal,
	TrainSetImg: trainDigImg,
	TrainSetVal: trainDigVal,
}

// ImgSize is the side of an MNIST image.
const ImgSize = 28

// Classes is the number of digit classes.
const Classes = 10

const (
	magicImages = 0x00000803
	magicLabels = 0x00000801
)

var (
	// ErrChecksum is returned when a file does not match its known digest.
	ErrChecksum = errors.New("mnist: checksum mismatch")
	// ErrFormat is returned for malformed IDX content.
	ErrFormat = errors.New("mnist: malformed idx file")
)

// Image is one grayscale digit, row major.
type Image [ImgSize * ImgSize]byte

// Split is one half of the dataset.
type Split struct {
	Images []Image
	Labels []byte
}

// Len returns the number of samples.
func (s *Split) Len() int {
	return len(s.Labels)
}

// Truncate keeps at most n samples. n <= 0 keeps everything.
func (s *Split) Truncate(n int) {
	if n <= 0 || n >= s.Len() {
		return
	}
	s.Images = s.Images[:n]
	s.Labels = s.Labels[:n]
}

// Set holds the train and the test (t10k) split.
type Set struct {
	Train Split
	Infer Split
}

// Verify checks the sha256 digest of name inside dir.
func Verify(dir, name string) error {
	hash, ok := Files[name]
	if !ok {
		return errors.Errorf("mnist: unknown file %s", name)
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return errors.Wrapf(err, "hash %s", name)
	}
	if fmt.Sprintf("%x", h.Sum(nil)) != hash {
		return errors.Wrapf(ErrChecksum, "file %s", name)
	}
	return nil
}

// Load reads the four dataset files from dir. With verify set, every file is
// checked against its known digest first.
func Load(dir string, verify bool) (*Set, error) {
	var set Set
	var err error

	if set.Train, err = loadSplit(dir, TrainSetImg, TrainSetVal, verify); err != nil {
		return nil, err
	}
	if set.Infer, err = loadSplit(dir, InferSetImg, InferSetVal, verify); err != nil {
		return nil, err
	}
	return &set, nil
}

func loadSplit(dir, imgName, valName string, verify bool) (s Split, err error) {
	if verify {
		for _, name := range []string{imgName, valName} {
			if err = Verify(dir, name); err != nil {
				return s, err
			}
		}
	}
	img, err := readGzip(filepath.Join(dir, imgName))
	if err != nil {
		return s, err
	}
	if s.Images, err = DecodeImages(img); err != nil {
		return s, errors.Wrapf(err, "file %s", imgName)
	}
	val, err := readGzip(filepath.Join(dir, valName))
	if err != nil {
		return s, err
	}
	if s.Labels, err = DecodeLabels(val); err != nil {
		return s, errors.Wrapf(err, "file %s", valName)
	}
	if len(s.Images) != len(s.Labels) {
		return s, errors.Wrapf(ErrFormat, "%d images but %d labels", len(s.Images), len(s.Labels))
	}
	return s, nil
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	gzipReader, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "gzip %s", path)
	}
	defer gzipReader.Close()
	var uncompressedBuffer bytes.Buffer
	if _, err := uncompressedBuffer.ReadFrom(gzipReader); err != nil {
		return nil, errors.Wrapf(err, "buffering %s", path)
	}
	return uncompressedBuffer.Bytes(), nil
}

// DecodeImages parses an uncompressed IDX3 image file.
func DecodeImages(data []byte) ([]Image, error) {
	if len(data) < 16 {
		return nil, errors.Wrap(ErrFormat, "short image header")
	}
	if binary.BigEndian.Uint32(data[0:]) != magicImages {
		return nil, errors.Wrapf(ErrFormat, "bad image magic %#x", binary.BigEndian.Uint32(data[0:]))
	}
	var count = int(binary.BigEndian.Uint32(data[4:]))
	var rows = int(binary.BigEndian.Uint32(data[8:]))
	var cols = int(binary.BigEndian.Uint32(data[12:]))
	if rows != ImgSize || cols != ImgSize {
		return nil, errors.Wrapf(ErrFormat, "image size %dx%d", rows, cols)
	}
	// skip header
	data = data[16:]
	if len(data) != count*ImgSize*ImgSize {
		return nil, errors.Wrapf(ErrFormat, "want %d images, have %d bytes", count, len(data))
	}
	var set = make([]Image, count)
	for i := range set {
		copy(set[i][:], data[i*ImgSize*ImgSize:])
	}
	return set, nil
}

// DecodeLabels parses an uncompressed IDX1 label file.
func DecodeLabels(data []byte) ([]byte, error) {
	if len(data) < 8 {
		return nil, errors.Wrap(ErrFormat, "short label header")
	}
	if binary.BigEndian.Uint32(data[0:]) != magicLabels {
		return nil, errors.Wrapf(ErrFormat, "bad label magic %#x", binary.BigEndian.Uint32(data[0:]))
	}
	var count = int(binary.BigEndian.Uint32(data[4:]))
	// skip header
	data = data[8:]
	if len(data) != count {
		return nil, errors.Wrapf(ErrFormat, "want %d labels, have %d bytes", count, len(data))
	}
	for i, v := range data {
		if v >= Classes {
			return nil, errors.Wrapf(ErrFormat, "label %d at %d out of range", v, i)
		}
	}
	var set = make([]byte, count)
	copy(set, data)
	return set, nil
}

// EncodeImages writes images as an uncompressed IDX3 file.
func EncodeImages(images []Image) []byte {
	var out = make([]byte, 16, 16+len(images)*ImgSize*ImgSize)
	binary.BigEndian.PutUint32(out[0:], magicImages)
	binary.BigEndian.PutUint32(out[4:], uint32(len(images)))
	binary.BigEndian.PutUint32(out[8:], ImgSize)
	binary.BigEndian.PutUint32(out[12:], ImgSize)
	for i := range images {
		out = append(out, images[i][:]...)
	}
	return out
}

// EncodeLabels writes labels as an uncompressed IDX1 file.
func EncodeLabels(labels []byte) []byte {
	var out = make([]byte, 8, 8+len(labels))
	binary.BigEndian.PutUint32(out[0:], magicLabels)
	binary.BigEndian.PutUint32(out[4:], uint32(len(labels)))
	return append(out, labels...)
}

// Shift translates the image by dx columns and dy rows, filling with zeros.
func Shift(in *Image, dx, dy int) (out Image) {
	for y := 0; y < ImgSize; y++ {
		sy := y - dy
		if sy < 0 || sy >= ImgSize {
			continue
		}
		for x := 0; x < ImgSize; x++ {
			sx := x - dx
			if sx < 0 || sx >= ImgSize {
				continue
			}
			out[y*ImgSize+x] = in[sy*ImgSize+sx]
		}
	}
	return out
}
