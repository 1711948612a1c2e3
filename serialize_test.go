package main

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSaveLoadRoundTrip tests that a restored model encodes and classifies
// exactly like the saved one.
func TestSaveLoadRoundTrip(t *testing.T) {
	model := tinyClassifier(t, 5)
	batch := randomBatch(t, rand.New(rand.NewSource(6)), 3, 6, 2)
	runID := uuid.New()
	history := []EpochReport{{Epoch: 1, Train: Metrics{Loss: 0.5}}}

	var buf bytes.Buffer
	require.NoError(t, model.Save(&buf, SaveOptions{RunID: runID, History: history}))

	restored, header, err := LoadClassifier(&buf, rand.New(rand.NewSource(99)), nil)
	require.NoError(t, err)
	assert.Equal(t, modelFormat, header.Format)
	assert.Equal(t, runID.String(), header.RunID)
	assert.Equal(t, model.Encoder.Config(), header.Encoder)
	assert.Equal(t, 2, header.NumClasses)
	assert.Equal(t, history, header.History)

	want, err := model.Encoder.Encode(batch)
	require.NoError(t, err)
	got, err := restored.Encoder.Encode(batch)
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.Data())

	wantLogits, err := model.Logits(batch)
	require.NoError(t, err)
	gotLogits, err := restored.Logits(batch)
	require.NoError(t, err)
	assert.Equal(t, wantLogits.Data(), gotLogits.Data())
}

// TestSaveLoadFile tests the afero file helpers.
func TestSaveLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	model := tinyClassifier(t, 5)

	require.NoError(t, SaveClassifierFile(fs, "/models/run.bin", model, SaveOptions{}))
	restored, header, err := LoadClassifierFile(fs, "/models/run.bin", rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, header.RunID)
	assert.Equal(t, model.NumClasses(), restored.NumClasses())

	_, _, err = LoadClassifierFile(fs, "/models/missing.bin", rand.New(rand.NewSource(1)), nil)
	assert.Error(t, err)
}

// TestLoadRejectsBadFiles tests corrupt and foreign inputs.
func TestLoadRejectsBadFiles(t *testing.T) {
	model := tinyClassifier(t, 5)
	var good bytes.Buffer
	require.NoError(t, model.Save(&good, SaveOptions{}))
	raw := good.Bytes()

	headerOnly := func(header string) []byte {
		var b bytes.Buffer
		require.NoError(t, binary.Write(&b, binary.LittleEndian, uint32(len(header))))
		b.WriteString(header)
		return b.Bytes()
	}

	cases := map[string][]byte{
		"empty":          nil,
		"zero header":    {0, 0, 0, 0},
		"huge header":    {0xff, 0xff, 0xff, 0x7f},
		"not json":       headerOnly("not json"),
		"wrong format":   headerOnly(`{"format":"other/v1"}`),
		"truncated":      raw[:len(raw)-8],
		"trailing bytes": append(append([]byte(nil), raw...), 1),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := LoadClassifier(bytes.NewReader(data), rand.New(rand.NewSource(1)), nil)
			assert.ErrorIs(t, err, ErrBadModelFile)
		})
	}

	// A valid header with an impossible architecture fails on rebuild.
	bad := headerOnly(`{"format":"spiralenc/v1","encoder":{"input_width":2,"model_width":5,"num_heads":2,"num_layers":1,"ff_hidden":4,"max_seq_len":4},"num_classes":2}`)
	_, _, err := LoadClassifier(bytes.NewReader(bad), rand.New(rand.NewSource(1)), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
