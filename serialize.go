package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Model file layout:
//
//	uint32 little-endian   header length n
//	n bytes                JSON ModelHeader
//	float64 little-endian  every parameter tensor, in Classifier.Parameters order
//
// The header carries enough to rebuild the architecture before the weights
// are read back.

const modelFormat = "spiralenc/v1"

// maxHeaderLen bounds the JSON header read from untrusted files.
const maxHeaderLen = 1 << 20

// ErrBadModelFile is returned for files that are not valid saved models.
var ErrBadModelFile = errors.New("model: bad model file")

// ModelHeader describes a saved model.
type ModelHeader struct {
	Format     string        `json:"format"`
	RunID      string        `json:"run_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Encoder    EncoderConfig `json:"encoder"`
	NumClasses int           `json:"num_classes"`
	NumParams  int           `json:"num_params"`
	History    []EpochReport `json:"history,omitempty"`
}

// SaveOptions annotate a saved model.
type SaveOptions struct {
	RunID   uuid.UUID
	History []EpochReport
}

// Save writes the classifier (encoder and head) to w.
func (c *Classifier) Save(w io.Writer, opts SaveOptions) error {
	if opts.RunID == uuid.Nil {
		opts.RunID = uuid.New()
	}
	params := c.Parameters()
	header := ModelHeader{
		Format:     modelFormat,
		RunID:      opts.RunID.String(),
		CreatedAt:  time.Now().UTC(),
		Encoder:    c.Encoder.cfg,
		NumClasses: c.numClasses,
		NumParams:  len(params),
		History:    opts.History,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal model header")
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header length")
	}
	if _, err := bw.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, p := range params {
		if err := binary.Write(bw, binary.LittleEndian, p.data); err != nil {
			return errors.Wrapf(err, "write parameter %d", i)
		}
	}
	return errors.Wrap(bw.Flush(), "flush model")
}

// LoadClassifier reads a classifier written by Save. rng becomes the
// encoder's dropout source; the stored weights replace its initial draws.
func LoadClassifier(r io.Reader, rng *rand.Rand, compute *Compute) (*Classifier, *ModelHeader, error) {
	br := bufio.NewReader(r)

	var headerLen uint32
	if err := binary.Read(br, binary.LittleEndian, &headerLen); err != nil {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "read header length: %v", err)
	}
	if headerLen == 0 || headerLen > maxHeaderLen {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "header length %d", headerLen)
	}
	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(br, headerJSON); err != nil {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "read header: %v", err)
	}
	var header ModelHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "decode header: %v", err)
	}
	if header.Format != modelFormat {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "format %q, expected %q", header.Format, modelFormat)
	}

	enc, err := NewEncoder(header.Encoder, rng, compute)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rebuild encoder")
	}
	model, err := NewClassifier(enc, header.NumClasses, rng, compute)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rebuild classifier")
	}

	params := model.Parameters()
	if len(params) != header.NumParams {
		return nil, nil, errors.Wrapf(ErrBadModelFile, "header lists %d parameters, architecture has %d", header.NumParams, len(params))
	}
	for i, p := range params {
		if err := binary.Read(br, binary.LittleEndian, p.data); err != nil {
			return nil, nil, errors.Wrapf(ErrBadModelFile, "read parameter %d: %v", i, err)
		}
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, nil, errors.Wrap(ErrBadModelFile, "trailing data after parameters")
	}
	return model, &header, nil
}

// SaveClassifierFile writes model to path on fs.
func SaveClassifierFile(fs afero.Fs, path string, model *Classifier, opts SaveOptions) error {
	return writeFile(fs, path, func(w io.Writer) error {
		return model.Save(w, opts)
	})
}

// LoadClassifierFile reads a model from path on fs.
func LoadClassifierFile(fs afero.Fs, path string, rng *rand.Rand, compute *Compute) (*Classifier, *ModelHeader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open model %s", path)
	}
	defer f.Close()
	model, header, err := LoadClassifier(f, rng, compute)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load model %s", path)
	}
	return model, header, nil
}
