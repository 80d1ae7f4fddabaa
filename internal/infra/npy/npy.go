// Package npy reads and writes float32 tensors in the NumPy .npy v1.0
// format, the shard format the training side memory-maps.
package npy

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/techthiyanes/lightning-pose/pkg/frames"
)

var magic = []byte("\x93NUMPY")

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// WriteBatch persists one windowed batch as a little-endian float32
// array of shape (seq_len, context_len, C, H, W).
func (w *Writer) WriteBatch(path string, batch *frames.WindowedBatch) error {
	shape := []int{batch.SeqLen, batch.ContextLen, batch.C, batch.H, batch.W}
	return WriteFloat32(path, shape, batch.Data)
}

// WriteFloat32 writes data as an .npy file with the given shape.
func WriteFloat32(path string, shape []int, data []float32) error {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(data) {
		return fmt.Errorf("npy: shape %v holds %d values, data has %d", shape, n, len(data))
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("npy: create %s: %w", path, err)
	}
	defer f.Close()

	if err := writeHeader(f, shape); err != nil {
		return err
	}

	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("npy: write data: %w", err)
	}
	return nil
}

func writeHeader(w io.Writer, shape []int) error {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%s), }", shapeStr)

	// total header (magic + version + length + dict + padding + '\n')
	// must be a multiple of 64 bytes
	prefix := len(magic) + 2 + 2
	total := prefix + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	if _, err := w.Write(magic); err != nil {
		return fmt.Errorf("npy: write magic: %w", err)
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return fmt.Errorf("npy: write version: %w", err)
	}
	var hlen [2]byte
	binary.LittleEndian.PutUint16(hlen[:], uint16(len(header)))
	if _, err := w.Write(hlen[:]); err != nil {
		return fmt.Errorf("npy: write header length: %w", err)
	}
	if _, err := w.Write([]byte(header)); err != nil {
		return fmt.Errorf("npy: write header: %w", err)
	}
	return nil
}

// ReadFloat32 loads a little-endian float32 .npy file.
func ReadFloat32(path string) (shape []int, data []float32, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("npy: read %s: %w", path, err)
	}
	if len(raw) < 10 || string(raw[:6]) != string(magic) {
		return nil, nil, fmt.Errorf("npy: %s is not an npy file", path)
	}
	if raw[6] != 1 {
		return nil, nil, fmt.Errorf("npy: unsupported version %d.%d", raw[6], raw[7])
	}
	hlen := int(binary.LittleEndian.Uint16(raw[8:10]))
	if len(raw) < 10+hlen {
		return nil, nil, fmt.Errorf("npy: truncated header")
	}
	header := string(raw[10 : 10+hlen])

	shape, err = parseShape(header)
	if err != nil {
		return nil, nil, err
	}
	if !strings.Contains(header, "'<f4'") {
		return nil, nil, fmt.Errorf("npy: unsupported dtype in header %q", header)
	}
	if strings.Contains(header, "'fortran_order': True") {
		return nil, nil, fmt.Errorf("npy: fortran order not supported")
	}

	n := 1
	for _, d := range shape {
		n *= d
	}
	body := raw[10+hlen:]
	if len(body) < 4*n {
		return nil, nil, fmt.Errorf("npy: body holds %d bytes, shape %v needs %d", len(body), shape, 4*n)
	}
	data = make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return shape, data, nil
}

func parseShape(header string) ([]int, error) {
	open := strings.Index(header, "(")
	end := strings.Index(header, ")")
	if open < 0 || end < open {
		return nil, fmt.Errorf("npy: no shape tuple in header %q", header)
	}
	var shape []int
	for _, part := range strings.Split(header[open+1:end], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("npy: bad shape dim %q", part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}
