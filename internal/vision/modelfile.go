package vision

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

var ErrModelNotFound = errors.New("model file not found")

const modelAlgorithm = "lbph-v1"

// Model file layout: a zstd frame wrapping a protobuf-wire message.
//
//	1: algorithm (string)
//	2: grid_x    (varint)
//	3: grid_y    (varint)
//	4: entry     (message, repeated)
//	   1: label     (string)
//	   2: histogram (packed fixed64, IEEE-754 bits)
const (
	fieldAlgorithm protowire.Number = 1
	fieldGridX     protowire.Number = 2
	fieldGridY     protowire.Number = 3
	fieldEntry     protowire.Number = 4

	entryLabel     protowire.Number = 1
	entryHistogram protowire.Number = 2
)

// Save writes the model to path, replacing any previous file atomically.
func (m *Model) Save(path string) error {
	raw := m.marshal()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	data := enc.EncodeAll(raw, nil)
	_ = enc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir model dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename model file: %w", err)
	}
	return nil
}

// LoadModel reads a model written by Save. A missing file yields
// ErrModelNotFound.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModelNotFound
		}
		return nil, fmt.Errorf("read model file: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress model file: %w", err)
	}

	m, err := unmarshalModel(raw)
	if err != nil {
		return nil, fmt.Errorf("decode model file %s: %w", path, err)
	}
	return m, nil
}

func (m *Model) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldAlgorithm, protowire.BytesType)
	b = protowire.AppendString(b, modelAlgorithm)
	b = protowire.AppendTag(b, fieldGridX, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.gridX))
	b = protowire.AppendTag(b, fieldGridY, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.gridY))

	for i, label := range m.labels {
		var e []byte
		e = protowire.AppendTag(e, entryLabel, protowire.BytesType)
		e = protowire.AppendString(e, label)

		packed := make([]byte, 0, 8*len(m.histograms[i]))
		for _, v := range m.histograms[i] {
			packed = protowire.AppendFixed64(packed, math.Float64bits(v))
		}
		e = protowire.AppendTag(e, entryHistogram, protowire.BytesType)
		e = protowire.AppendBytes(e, packed)

		b = protowire.AppendTag(b, fieldEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func unmarshalModel(b []byte) (*Model, error) {
	m := &Model{}
	var algorithm string

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldAlgorithm && typ == protowire.BytesType:
			algorithm, n = protowire.ConsumeString(b)
		case num == fieldGridX && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.gridX = int(v)
		case num == fieldGridY && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.gridY = int(v)
		case num == fieldEntry && typ == protowire.BytesType:
			var e []byte
			e, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				if err := m.unmarshalEntry(e); err != nil {
					return nil, err
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
	}

	if algorithm != modelAlgorithm {
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
	if m.gridX <= 0 || m.gridY <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d", m.gridX, m.gridY)
	}
	if len(m.labels) == 0 {
		return nil, ErrEmptyCorpus
	}
	want := m.gridX * m.gridY * lbpBins
	for i, h := range m.histograms {
		if len(h) != want {
			return nil, fmt.Errorf("entry %d: histogram has %d bins, want %d", i, len(h), want)
		}
	}
	return m, nil
}

func (m *Model) unmarshalEntry(b []byte) error {
	var (
		label string
		hist  []float64
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == entryLabel && typ == protowire.BytesType:
			label, n = protowire.ConsumeString(b)
		case num == entryHistogram && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				if len(packed)%8 != 0 {
					return fmt.Errorf("histogram of %d bytes is not fixed64 packed", len(packed))
				}
				hist = make([]float64, 0, len(packed)/8)
				for len(packed) > 0 {
					v, k := protowire.ConsumeFixed64(packed)
					if k < 0 {
						return protowire.ParseError(k)
					}
					hist = append(hist, math.Float64frombits(v))
					packed = packed[k:]
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	m.labels = append(m.labels, label)
	m.histograms = append(m.histograms, hist)
	return nil
}
