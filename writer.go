// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Serialize writes tensors and metadata to w in the container format: an
// 8-byte little-endian header length, the JSON header itself, then the
// concatenated tensor payloads in the same order the header describes them.
//
// The header is hand-assembled rather than produced by encoding/json.Marshal
// on a map, because Go map iteration (and hence json.Marshal's alphabetical
// key ordering) would scramble the tensor order this function chooses;
// individual key and string values are still escaped with
// encoding/json.Marshal(string), which is safe to use for a single string
// token. Serialize validates every tensor before writing anything, so a
// caller never gets a partially written file on error other than through an
// io error from w itself.
func Serialize(tensors []Tensor, metadata []MetadataEntry, w io.Writer) error {
	ordered := make([]Tensor, len(tensors))
	copy(ordered, tensors)
	sort.SliceStable(ordered, func(i, j int) bool {
		wi, wj := ordered[i].DType.WordSize(), ordered[j].DType.WordSize()
		if wi != wj {
			return wi > wj
		}
		return ordered[i].Name < ordered[j].Name
	})

	for _, t := range ordered {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	header, err := buildHeaderJSON(ordered, metadata)
	if err != nil {
		return err
	}

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write header length: %w", err)
	}
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, t := range ordered {
		if _, err := w.Write(t.Data); err != nil {
			return fmt.Errorf("write tensor %q data: %w", t.Name, err)
		}
	}
	return nil
}

// buildHeaderJSON assembles the header JSON object by hand, in the exact
// tensor order ordered already carries, computing sequential data_offsets as
// it goes. metadata, if non-empty, is emitted first under "__metadata__",
// matching the layout original_source/csafetensors.c produces on write.
func buildHeaderJSON(ordered []Tensor, metadata []MetadataEntry) ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	first := true

	if len(metadata) > 0 {
		mj, err := metadataJSON(metadata)
		if err != nil {
			return nil, err
		}
		buf = append(buf, []byte(`"__metadata__":`)...)
		buf = append(buf, mj...)
		first = false
	}

	offset := uint64(0)
	for _, t := range ordered {
		if !first {
			buf = append(buf, ',')
		}
		first = false

		nameJSON, err := json.Marshal(t.Name)
		if err != nil {
			return nil, fmt.Errorf("encode tensor name %q: %w", t.Name, err)
		}
		buf = append(buf, nameJSON...)
		buf = append(buf, ':')

		size := uint64(len(t.Data))
		entry := fmt.Sprintf(`{"dtype":"%s","shape":%s,"data_offsets":[%d,%d]}`,
			t.DType, shapeJSON(t.Shape), offset, offset+size)
		buf = append(buf, entry...)
		offset += size
	}

	buf = append(buf, '}')
	return buf, nil
}

func metadataJSON(metadata []MetadataEntry) ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, e := range metadata {
		if i > 0 {
			buf = append(buf, ',')
		}
		kj, err := json.Marshal(e.Key)
		if err != nil {
			return nil, fmt.Errorf("encode metadata key %q: %w", e.Key, err)
		}
		vj, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode metadata value for key %q: %w", e.Key, err)
		}
		buf = append(buf, kj...)
		buf = append(buf, ':')
		buf = append(buf, vj...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func shapeJSON(shape []uint64) string {
	buf := []byte{'['}
	for i, d := range shape {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, []byte(fmt.Sprintf("%d", d))...)
	}
	buf = append(buf, ']')
	return string(buf)
}
