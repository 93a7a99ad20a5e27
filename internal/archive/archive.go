// Package archive reads and writes dataset split archives: zip containers
// holding one NPY array record per named key ("image", "label").
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"trainpipe/internal/dataset"
)

const (
	ImageKey = "image"
	LabelKey = "label"
)

var npyMagic = []byte("\x93NUMPY")

// WriteSplit serializes a split to a zip archive at path. The archive is
// written once and treated as immutable afterwards. Fails if the sample and
// label counts disagree.
func WriteSplit(path string, split *dataset.Split) error {
	if len(split.Images) != len(split.Labels) {
		return fmt.Errorf("cannot archive split: %d images but %d labels", len(split.Images), len(split.Labels))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	imageData := make([]byte, 0, len(split.Images)*dataset.ImageSize*dataset.ImageSize)
	for _, img := range split.Images {
		imageData = append(imageData, img...)
	}
	count := len(split.Images)
	if err := writeArray(zw, ImageKey, []int{count, dataset.ImageSize, dataset.ImageSize}, imageData); err != nil {
		return fmt.Errorf("failed to write image array to %s: %w", path, err)
	}
	if err := writeArray(zw, LabelKey, []int{count}, split.Labels); err != nil {
		return fmt.Errorf("failed to write label array to %s: %w", path, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive %s: %w", path, err)
	}
	return nil
}

// ReadSplit loads a split archive written by WriteSplit.
func ReadSplit(path string) (*dataset.Split, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer zr.Close()

	imageShape, imageData, err := readArray(&zr.Reader, ImageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read image array from %s: %w", path, err)
	}
	labelShape, labelData, err := readArray(&zr.Reader, LabelKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read label array from %s: %w", path, err)
	}

	if len(imageShape) != 3 || imageShape[1] != dataset.ImageSize || imageShape[2] != dataset.ImageSize {
		return nil, fmt.Errorf("unexpected image shape %v in %s", imageShape, path)
	}
	if len(labelShape) != 1 {
		return nil, fmt.Errorf("unexpected label shape %v in %s", labelShape, path)
	}
	if imageShape[0] != labelShape[0] {
		return nil, fmt.Errorf("archive %s is inconsistent: %d images but %d labels", path, imageShape[0], labelShape[0])
	}

	split := &dataset.Split{
		Images: make([][]byte, imageShape[0]),
		Labels: labelData,
	}
	stride := dataset.ImageSize * dataset.ImageSize
	for i := range split.Images {
		split.Images[i] = imageData[i*stride : (i+1)*stride]
	}
	return split, nil
}

// writeArray appends one NPY v1.0 uint8 record to the zip archive under
// "<key>.npy".
func writeArray(zw *zip.Writer, key string, shape []int, data []byte) error {
	w, err := zw.Create(key + ".npy")
	if err != nil {
		return err
	}

	dims := make([]string, len(shape))
	size := 1
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
		size *= d
	}
	if size != len(data) {
		return fmt.Errorf("shape %v does not match %d bytes of data", shape, len(data))
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}

	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': (%s), }", shapeStr)
	// Pad so magic+version+length+header is a multiple of 64, newline last.
	padded := (len(npyMagic)+4+len(header)+1+63)/64*64 - len(npyMagic) - 4
	header += strings.Repeat(" ", padded-len(header)-1) + "\n"

	if _, err := w.Write(npyMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readArray(zr *zip.Reader, key string) ([]int, []byte, error) {
	f, err := zr.Open(key + ".npy")
	if err != nil {
		return nil, nil, fmt.Errorf("missing entry %q: %w", key, err)
	}
	defer f.Close()

	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(f, prefix); err != nil {
		return nil, nil, fmt.Errorf("entry %q is truncated: %w", key, err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, nil, fmt.Errorf("entry %q is not an NPY record", key)
	}
	if prefix[len(npyMagic)] != 1 {
		return nil, nil, fmt.Errorf("unsupported NPY version %d.%d in entry %q", prefix[len(npyMagic)], prefix[len(npyMagic)+1], key)
	}

	var headerLen uint16
	if err := binary.Read(f, binary.LittleEndian, &headerLen); err != nil {
		return nil, nil, fmt.Errorf("entry %q is truncated: %w", key, err)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, nil, fmt.Errorf("entry %q is truncated: %w", key, err)
	}

	shape, err := parseHeader(string(header))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid header in entry %q: %w", key, err)
	}

	size := 1
	for _, d := range shape {
		size *= d
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, fmt.Errorf("entry %q data is truncated: %w", key, err)
	}
	return shape, data, nil
}

// parseHeader extracts the shape tuple of a uint8, C-ordered NPY header dict.
func parseHeader(header string) ([]int, error) {
	if !strings.Contains(header, "'descr': '|u1'") {
		return nil, fmt.Errorf("unsupported dtype in header %q", strings.TrimSpace(header))
	}
	if !strings.Contains(header, "'fortran_order': False") {
		return nil, fmt.Errorf("fortran-ordered arrays are not supported")
	}

	_, rest, ok := strings.Cut(header, "'shape': (")
	if !ok {
		return nil, fmt.Errorf("missing shape in header %q", strings.TrimSpace(header))
	}
	tuple, _, ok := strings.Cut(rest, ")")
	if !ok {
		return nil, fmt.Errorf("malformed shape in header %q", strings.TrimSpace(header))
	}

	var shape []int
	for _, field := range strings.Split(tuple, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		d, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid shape dimension %q: %w", field, err)
		}
		shape = append(shape, d)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape in header %q", strings.TrimSpace(header))
	}
	return shape, nil
}
