// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// maxHeaderSize bounds the JSON header to 100 MiB, a hard cap so that a
// hostile file cannot force the JSON reader to allocate an unbounded tree
// before any other validation runs.
const maxHeaderSize = 100 << 20

// Mode records how a File's payload bytes are owned.
type Mode int

const (
	// Copied means File owns a heap copy of the payload.
	Copied Mode = iota
	// Mapped means File holds a read-only memory mapping over the payload.
	Mapped
)

func (m Mode) String() string {
	if m == Mapped {
		return "Mapped"
	}
	return "Copied"
}

// File is a loaded safetensors container: the tensor directory, metadata,
// and a view of the raw payload bytes. It is immutable after construction;
// multiple readers may use a *File concurrently without synchronization.
// Close must be called exactly once when the caller is done, though Close
// itself is safe to call more than once (idempotent release).
type File struct {
	// HeaderSize is the size in bytes of the JSON header that followed the
	// 8-byte length prefix.
	HeaderSize uint64
	// Tensors is the tensor directory, in header JSON iteration order.
	Tensors []TensorInfo
	// Metadata is the "__metadata__" sequence, in header JSON iteration
	// order.
	Metadata []MetadataEntry
	// Mode reports whether payload bytes are owned (Copied) or mapped
	// (Mapped).
	Mode Mode
	// Warnings is a sink for non-fatal issues (e.g. unrecognized tensor
	// fields); nothing currently populates it. Reserved for a future
	// extension, per spec's open question on a warning channel.
	Warnings []string

	payload []byte
	nameIdx map[string]int
	mapping *platformMap
	lastErr string
	closed  bool
}

// LoadFromFile reads the entire file at path into an owned buffer and
// parses it (copy mode).
func LoadFromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CodedError{Code: FileNotFound, Err: err}
		}
		return nil, &CodedError{Code: FileRead, Err: err}
	}
	return LoadFromMemory(data)
}

// LoadFromMemory parses data in place and copies the payload region into an
// owned buffer (copy mode). data may be reused or discarded by the caller
// once LoadFromMemory returns.
func LoadFromMemory(data []byte) (*File, error) {
	h, tensors, metadata, err := parseContainerHeader(data)
	if err != nil {
		return nil, err
	}
	base := 8 + h
	owned := make([]byte, uint64(len(data))-base)
	copy(owned, data[base:])

	f := &File{
		HeaderSize: h,
		Tensors:    tensors,
		Metadata:   metadata,
		Mode:       Copied,
		payload:    owned,
	}
	f.buildIndex()
	return f, nil
}

// MmapFromFile opens the file at path and memory-maps it read-only (map
// mode). The mapping, and the file handle backing it, are released by
// (*File).Close.
func MmapFromFile(path string) (*File, error) {
	pm, err := openPlatformMap(path)
	if err != nil {
		return nil, err
	}
	f, err := MmapFromMemory(pm.Bytes())
	if err != nil {
		_ = pm.Close()
		return nil, err
	}
	f.mapping = pm
	return f, nil
}

// MmapFromMemory parses data in place and records the payload region as a
// view into data itself — no copy. The caller must keep data (typically an
// mmap-go mapping, but any byte slice works) valid for the returned File's
// lifetime.
func MmapFromMemory(data []byte) (*File, error) {
	h, tensors, metadata, err := parseContainerHeader(data)
	if err != nil {
		return nil, err
	}
	base := 8 + h
	f := &File{
		HeaderSize: h,
		Tensors:    tensors,
		Metadata:   metadata,
		Mode:       Mapped,
		payload:    data[base:],
	}
	f.buildIndex()
	return f, nil
}

// parseContainerHeader implements the procedure shared by all four loaders:
// split the 8-byte length prefix, bound-check it, hand the header bytes to
// the JSON reader, then run the header validator. It never touches the
// payload region itself — that is left to the caller, which differs between
// copy and map mode.
func parseContainerHeader(data []byte) (headerSize uint64, tensors []TensorInfo, metadata []MetadataEntry, err error) {
	if len(data) < 16 {
		return 0, nil, nil, &CodedError{
			Code: InvalidArgument,
			Err:  fmt.Errorf("invalid header: file too small (%d bytes, need at least 16)", len(data)),
		}
	}

	h := binary.LittleEndian.Uint64(data[:8])
	if h < 2 {
		return 0, nil, nil, &CodedError{
			Code: InvalidHeader,
			Err:  fmt.Errorf("invalid header: header size too small (%d)", h),
		}
	}
	if h > maxHeaderSize {
		return 0, nil, nil, &CodedError{
			Code: InvalidHeader,
			Err:  fmt.Errorf("invalid header: too large: max %d, actual %d", maxHeaderSize, h),
		}
	}
	if 8+h > uint64(len(data)) {
		return 0, nil, nil, &CodedError{
			Code: InvalidHeader,
			Err:  fmt.Errorf("invalid header: length %d exceeds file size %d", 8+h, len(data)),
		}
	}

	root, err := parseJSON(data[8 : 8+h])
	if err != nil {
		return 0, nil, nil, &CodedError{
			Code: JsonParse,
			Err:  fmt.Errorf("invalid header: json: %w", err),
		}
	}

	tensors, metadata, err = validateHeader(root)
	if err != nil {
		return 0, nil, nil, &CodedError{
			Code: InvalidHeader,
			Err:  fmt.Errorf("invalid header: %w", err),
		}
	}
	return h, tensors, metadata, nil
}

func (f *File) buildIndex() {
	f.nameIdx = make(map[string]int, len(f.Tensors))
	for i, t := range f.Tensors {
		f.nameIdx[t.Name] = i
	}
}

// GetTensor looks up a tensor descriptor by name. It never fails: a miss
// reports ok=false.
func (f *File) GetTensor(name string) (info TensorInfo, ok bool) {
	i, ok := f.nameIdx[name]
	if !ok {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// GetTensorByIndex looks up a tensor descriptor by its position in
// iteration order. It never fails: an out-of-range index reports ok=false.
func (f *File) GetTensorByIndex(i int) (info TensorInfo, ok bool) {
	if i < 0 || i >= len(f.Tensors) {
		return TensorInfo{}, false
	}
	return f.Tensors[i], true
}

// GetMetadata looks up a metadata value by key. It never fails: a miss
// reports ok=false.
func (f *File) GetMetadata(key string) (value string, ok bool) {
	for _, e := range f.Metadata {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// TensorData computes the payload slice a descriptor addresses:
// payload[DataOffsets[0]:DataOffsets[1]]. It guards against slicing out of
// the payload's bounds (reporting ok=false instead, since an out-of-bounds
// Go slice operation panics rather than reading adjacent memory the way a
// raw pointer computation would), but — matching spec — it does not
// re-validate the full invariant that the span's length equals the
// descriptor's byte size; call (*File).ValidateDataOffsets once up front
// for that.
func (f *File) TensorData(info TensorInfo) (data []byte, ok bool) {
	begin, end := info.DataOffsets[0], info.DataOffsets[1]
	if end < begin || end > uint64(len(f.payload)) {
		return nil, false
	}
	return f.payload[begin:end], true
}

// Tensor is the fully materialized counterpart to GetTensor: it looks up
// the descriptor by name and resolves its data in one call. Unlike
// GetTensor, it can fail — if the name is unknown, or if the descriptor's
// data_offsets don't fit the payload.
func (f *File) Tensor(name string) (Tensor, bool) {
	info, ok := f.GetTensor(name)
	if !ok {
		return Tensor{}, false
	}
	data, ok := f.TensorData(info)
	if !ok {
		return Tensor{}, false
	}
	return Tensor{Name: info.Name, DType: info.DType, Shape: info.Shape, Data: data}, true
}

// ValidateDataOffsets checks the stronger invariant the load path
// deliberately defers: for every non-empty tensor, DataOffsets.end must not
// exceed the payload length, and the span's length must equal the
// descriptor's byte size. It stops and reports false at the first
// violation, recording a message retrievable with LastError — it never
// panics or returns an error value itself, matching the "accessors never
// fail, validate_data_offsets returns a bool" policy.
func (f *File) ValidateDataOffsets() bool {
	payloadLen := uint64(len(f.payload))
	for _, t := range f.Tensors {
		numElements, err := elementCountChecked(t.Shape)
		if err != nil {
			f.lastErr = fmt.Sprintf("tensor %q: %v", t.Name, err)
			return false
		}
		if numElements == 0 {
			continue
		}

		begin, end := t.DataOffsets[0], t.DataOffsets[1]
		if end > payloadLen {
			f.lastErr = fmt.Sprintf("tensor %q: data_offsets end %d exceeds payload length %d", t.Name, end, payloadLen)
			return false
		}

		numBytes, err := checkedMul(numElements, t.DType.WordSize())
		if err != nil {
			f.lastErr = fmt.Sprintf("tensor %q: failed to compute byte size from element count: %v", t.Name, err)
			return false
		}
		if end-begin != numBytes {
			f.lastErr = fmt.Sprintf("tensor %q: data_offsets span %d does not match byte size %d", t.Name, end-begin, numBytes)
			return false
		}
	}
	f.lastErr = ""
	return true
}

// LastError returns the message ValidateDataOffsets set on its last call
// that returned false. Empty after a successful call, or before either has
// ever been called.
func (f *File) LastError() string {
	return f.lastErr
}

// Close releases resources the load acquired: in copy mode there is nothing
// to release beyond ordinary garbage collection; in map mode it unmaps the
// file and closes its handle. Idempotent.
func (f *File) Close() error {
	if f == nil || f.closed {
		return nil
	}
	f.closed = true
	if f.mapping != nil {
		return f.mapping.Close()
	}
	return nil
}
