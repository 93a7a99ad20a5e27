package dataset

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

const (
	ImageSize  = 28
	NumClasses = 10
)

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

// DefaultBaseURL points at the public MNIST mirror.
const DefaultBaseURL = "https://ossci-datasets.s3.amazonaws.com/mnist/"

type sourceFile struct {
	name   string
	sha256 string
}

var (
	trainImagesFile = sourceFile{"train-images-idx3-ubyte.gz", "440fcabf73cc546fa21475e81ea370265605f56be210a4024d2ca8f203523609"}
	trainLabelsFile = sourceFile{"train-labels-idx1-ubyte.gz", "3552534a0a558bbed6aed32b30c495cca23d567ec52cac8be1a0730e8010255c"}
	validImagesFile = sourceFile{"t10k-images-idx3-ubyte.gz", "8d422c7b0a1c1c79245a5bcf07fe86e33eeafee792b84584aec276f5a2dbc4e6"}
	validLabelsFile = sourceFile{"t10k-labels-idx1-ubyte.gz", "f7ae60f92e00ec6debd23a6088c31dbd2371eca3ffa0defaefb259924204aec6"}
)

// Split holds one dataset split: a parallel pair of flattened 28x28 uint8
// images and their class labels.
type Split struct {
	Images [][]byte
	Labels []byte
}

func (s *Split) Count() int {
	return len(s.Labels)
}

type Source struct {
	client       *resty.Client
	cacheDir     string
	verifyDigest bool
	progress     bool
}

type SourceOption func(*Source)

// WithProgress enables a terminal progress bar during downloads.
func WithProgress() SourceOption {
	return func(s *Source) { s.progress = true }
}

// WithoutDigestCheck disables sha256 verification of downloaded files. Only
// useful when pointing the source at a non-standard mirror.
func WithoutDigestCheck() SourceOption {
	return func(s *Source) { s.verifyDigest = false }
}

func NewSource(baseURL, cacheDir string, opts ...SourceOption) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	s := &Source{
		client:       resty.New().SetBaseURL(baseURL),
		cacheDir:     cacheDir,
		verifyDigest: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load fetches and decodes both dataset splits. A single attempt is made per
// file; any fetch or decode error aborts the load.
func (s *Source) Load(ctx context.Context) (train, valid *Split, err error) {
	train, err = s.loadSplit(ctx, trainImagesFile, trainLabelsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load train split: %w", err)
	}
	valid, err = s.loadSplit(ctx, validImagesFile, validLabelsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load validation split: %w", err)
	}
	return train, valid, nil
}

func (s *Source) loadSplit(ctx context.Context, images, labels sourceFile) (*Split, error) {
	imagesPath, err := s.fetchFile(ctx, images)
	if err != nil {
		return nil, err
	}
	labelsPath, err := s.fetchFile(ctx, labels)
	if err != nil {
		return nil, err
	}

	split := &Split{}
	if split.Images, err = decodeGzipped(imagesPath, decodeImages); err != nil {
		return nil, err
	}
	if split.Labels, err = decodeGzipped(labelsPath, decodeLabels); err != nil {
		return nil, err
	}

	if len(split.Images) != len(split.Labels) {
		return nil, fmt.Errorf("sample/label count mismatch: %d images, %d labels", len(split.Images), len(split.Labels))
	}
	return split, nil
}

// fetchFile downloads one source file into the cache directory, skipping the
// download when a file with a valid digest is already present.
func (s *Source) fetchFile(ctx context.Context, file sourceFile) (string, error) {
	if err := os.MkdirAll(s.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", s.cacheDir, err)
	}

	path := filepath.Join(s.cacheDir, file.name)
	if _, err := os.Stat(path); err == nil {
		if !s.verifyDigest {
			return path, nil
		}
		if err := verifyDigest(path, file.sha256); err == nil {
			slog.Info("using cached dataset file", "file", file.name)
			return path, nil
		}
		slog.Warn("cached dataset file has wrong digest, re-downloading", "file", file.name)
	}

	slog.Info("downloading dataset file", "file", file.name)
	resp, err := s.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(file.name)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", file.name, err)
	}
	defer resp.RawBody().Close()
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("failed to fetch %s: status %s", file.name, resp.Status())
	}

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer dst.Close()

	hasher := sha256.New()
	var out io.Writer = io.MultiWriter(dst, hasher)
	if s.progress {
		bar := progressbar.DefaultBytes(resp.RawResponse.ContentLength, file.name)
		out = io.MultiWriter(dst, hasher, bar)
	}

	if _, err := io.Copy(out, resp.RawBody()); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if s.verifyDigest {
		if digest := hex.EncodeToString(hasher.Sum(nil)); digest != file.sha256 {
			os.Remove(path)
			return "", fmt.Errorf("digest mismatch for %s: got %s, want %s", file.name, digest, file.sha256)
		}
	}
	return path, nil
}

func verifyDigest(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	if digest := hex.EncodeToString(hasher.Sum(nil)); digest != want {
		return fmt.Errorf("digest mismatch for %s: got %s, want %s", path, digest, want)
	}
	return nil
}

func decodeGzipped[T any](path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T

	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return zero, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
	}
	defer gz.Close()

	out, err := decode(gz)
	if err != nil {
		return zero, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return out, nil
}

// decodeImages parses an IDX image record: big-endian magic, count, rows,
// cols, then raw uint8 pixels.
func decodeImages(r io.Reader) ([][]byte, error) {
	var header struct {
		Magic, Count, Rows, Cols uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if header.Magic != imagesMagic {
		return nil, fmt.Errorf("unexpected image magic 0x%08x", header.Magic)
	}
	if header.Rows != ImageSize || header.Cols != ImageSize {
		return nil, fmt.Errorf("unexpected image dimensions %dx%d", header.Rows, header.Cols)
	}

	pixels := make([]byte, int(header.Count)*ImageSize*ImageSize)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	images := make([][]byte, header.Count)
	for i := range images {
		images[i] = pixels[i*ImageSize*ImageSize : (i+1)*ImageSize*ImageSize]
	}
	return images, nil
}

// decodeLabels parses an IDX label record: big-endian magic, count, then one
// uint8 class label per sample.
func decodeLabels(r io.Reader) ([]byte, error) {
	var header struct {
		Magic, Count uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read label header: %w", err)
	}
	if header.Magic != labelsMagic {
		return nil, fmt.Errorf("unexpected label magic 0x%08x", header.Magic)
	}

	labels := make([]byte, header.Count)
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("failed to read label data: %w", err)
	}
	for i, label := range labels {
		if label >= NumClasses {
			return nil, fmt.Errorf("label %d at index %d out of range", label, i)
		}
	}
	return labels, nil
}
