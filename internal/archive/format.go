package archive

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/nvandessel/meccsim/internal/store"
)

// FormatVersion is the current archive format version.
const FormatVersion = 1

// Codec names the payload compression.
const Codec = "zstd"

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrChecksum is returned when the payload does not match the header checksum.
var ErrChecksum = errors.New("archive checksum mismatch")

// Header is the plain-text first line of an archive file.
type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	Codec     string    `json:"codec"`

	RunID      string `json:"run_id"`
	Name       string `json:"name,omitempty"`
	Seed       uint64 `json:"seed"`
	Trained    bool   `json:"trained"`
	Population int    `json:"population"`
	Steps      int    `json:"steps"`
	Rows       int    `json:"rows"`
}

// Write stores run as an archive: header line + zstd-compressed JSON payload.
func Write(path string, run *store.Run) (*Header, error) {
	if run == nil || run.Table == nil {
		return nil, fmt.Errorf("run and its table are required")
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing zstd writer: %w", err)
	}

	header := &Header{
		Version:    FormatVersion,
		CreatedAt:  time.Now().UTC(),
		Checksum:   checksum(compressed.Bytes()),
		Codec:      Codec,
		RunID:      run.ID,
		Name:       run.Name,
		Seed:       run.Seed,
		Trained:    run.Trained,
		Population: run.Population,
		Steps:      run.Steps,
		Rows:       run.Table.Len(),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return nil, fmt.Errorf("writing compressed payload: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing file: %w", err)
	}
	return header, nil
}

func checksum(b []byte) string {
	hash := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// open reads the header line and the raw payload.
func open(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, compressed, nil
}

func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	if header.Codec != Codec {
		return nil, fmt.Errorf("unsupported archive codec %q", header.Codec)
	}
	return &header, nil
}

// ReadHeader reads only the header line without decompressing.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// Verify checks the payload checksum without decompressing.
func Verify(path string) (*Header, error) {
	header, compressed, err := open(path)
	if err != nil {
		return nil, err
	}
	if got := checksum(compressed); got != header.Checksum {
		return header, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, got)
	}
	return header, nil
}

// Read verifies and decompresses an archive.
func Read(path string) (*store.Run, *Header, error) {
	header, compressed, err := open(path)
	if err != nil {
		return nil, nil, err
	}
	if got := checksum(compressed); got != header.Checksum {
		return nil, header, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, got)
	}

	zr, err := zstd.NewReader(bytes.NewReader(compressed), zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		return nil, header, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedSize+1))
	if err != nil {
		return nil, header, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, header, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var run store.Run
	if err := json.Unmarshal(decompressed, &run); err != nil {
		return nil, header, fmt.Errorf("parsing archive data: %w", err)
	}
	return &run, header, nil
}
