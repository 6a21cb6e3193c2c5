// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import "fmt"

// MaxDim is the maximum number of dimensions a tensor's shape may carry.
const MaxDim = 8

// TensorInfo is an immutable tensor descriptor: dtype, shape, and the byte
// range within the payload that holds its raw data. It carries no data
// itself — see File.TensorData and File.Tensor for that — so that it can be
// produced by the header validator before the payload's offsets have been
// checked against the actual payload length (see File.ValidateDataOffsets).
type TensorInfo struct {
	Name        string
	DType       DType
	Shape       []uint64
	DataOffsets [2]uint64
}

// ElementCount returns the number of elements implied by t.Shape: 1 for a
// scalar, 0 if any dimension is 0, else the product of all dimensions.
func (t TensorInfo) ElementCount() uint64 {
	return elementCount(t.Shape)
}

// ByteSize returns ElementCount * the dtype's word size.
func (t TensorInfo) ByteSize() uint64 {
	return t.ElementCount() * t.DType.WordSize()
}

// NDim returns the number of dimensions in t.Shape.
func (t TensorInfo) NDim() int {
	return len(t.Shape)
}

// MetadataEntry is one key/value pair from the header's "__metadata__"
// object, in source order.
type MetadataEntry struct {
	Key   string
	Value string
}

// Tensor is a fully materialized tensor: its descriptor plus the raw bytes
// it addresses. It is the unit Serialize writes and File.Tensor returns.
type Tensor struct {
	Name  string
	DType DType
	Shape []uint64
	Data  []byte
}

// Validate reports whether Data's length matches what DType and Shape
// imply.
func (t Tensor) Validate() error {
	want := elementCount(t.Shape) * t.DType.WordSize()
	if got := uint64(len(t.Data)); got != want {
		return fmt.Errorf("invalid tensor %q: dtype=%s shape=%v len(data)=%d, want %d", t.Name, t.DType, t.Shape, got, want)
	}
	return nil
}

// elementCount returns the number of elements implied by shape: 1 for a
// scalar (empty shape), 0 if any dimension is 0 (an empty tensor), else the
// product of all dimensions. It is a pure function of shape and performs no
// overflow checking — see elementCountChecked for the checked variant used
// by ValidateDataOffsets.
func elementCount(shape []uint64) uint64 {
	if len(shape) == 0 {
		return 1
	}
	n := uint64(1)
	for _, d := range shape {
		if d == 0 {
			return 0
		}
		n *= d
	}
	return n
}

// elementCountChecked is like elementCount but detects multiplication
// overflow, for use on the data-offsets validation path where an attacker
// could otherwise craft a shape whose true product wraps around to match a
// forged data_offsets span.
func elementCountChecked(shape []uint64) (uint64, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	n := uint64(1)
	for _, d := range shape {
		if d == 0 {
			return 0, nil
		}
		var err error
		n, err = checkedMul(n, d)
		if err != nil {
			return 0, fmt.Errorf("failed to compute element count from shape: %w", err)
		}
	}
	return n, nil
}

// checkedMul multiplies a and b, returning an error if the product overflows
// a uint64.
func checkedMul(a, b uint64) (uint64, error) {
	c := a * b
	if a > 1 && b > 1 && c/a != b {
		return c, fmt.Errorf("multiplication overflow: %d * %d", a, b)
	}
	return c, nil
}
