// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"fmt"
	"math"
)

// metadataKey is the reserved top-level key carrying string metadata
// instead of a tensor descriptor.
const metadataKey = "__metadata__"

// validateHeader walks a parsed JSON tree and turns it into a tensor
// directory plus metadata sequence, enforcing the format's structural
// invariants. It never retains a reference into root past returning: every
// string it copies out becomes a Go string, independent of the JSON tree.
func validateHeader(root *jsonValue) ([]TensorInfo, []MetadataEntry, error) {
	if root == nil || root.kind != jsonObject {
		return nil, nil, fmt.Errorf("root: %w: got %s", ErrNotAnObject, kindOf(root))
	}

	tensors := make([]TensorInfo, 0, len(root.obj))
	var metadata []MetadataEntry
	seenNames := make(map[string]bool, len(root.obj))

	for _, m := range root.obj {
		if m.key == metadataKey {
			meta, err := parseMetadataObject(m.value)
			if err != nil {
				return nil, nil, err
			}
			metadata = meta
			continue
		}

		if seenNames[m.key] {
			// The JSON reader already rejects duplicate object keys, so
			// this can't actually trigger; kept as a defensive assertion.
			return nil, nil, fmt.Errorf("tensor %q: %w", m.key, ErrDuplicateName)
		}
		info, err := parseTensorInfo(m.key, m.value)
		if err != nil {
			return nil, nil, err
		}
		seenNames[m.key] = true
		tensors = append(tensors, info)
	}

	return tensors, metadata, nil
}

func kindOf(v *jsonValue) jsonKind {
	if v == nil {
		return jsonNull
	}
	return v.kind
}

func parseMetadataObject(v *jsonValue) ([]MetadataEntry, error) {
	if v == nil || v.kind != jsonObject {
		return nil, fmt.Errorf("%q: %w: got %s", metadataKey, ErrNotAnObject, kindOf(v))
	}
	out := make([]MetadataEntry, 0, len(v.obj))
	seen := make(map[string]bool, len(v.obj))
	for _, m := range v.obj {
		if m.value.kind != jsonString {
			return nil, fmt.Errorf("%q[%q]: expected a string value, got %s", metadataKey, m.key, m.value.kind)
		}
		if seen[m.key] {
			return nil, fmt.Errorf("%q[%q]: %w", metadataKey, m.key, ErrDuplicateName)
		}
		seen[m.key] = true
		out = append(out, MetadataEntry{Key: m.key, Value: m.value.str})
	}
	return out, nil
}

func parseTensorInfo(name string, v *jsonValue) (TensorInfo, error) {
	if v == nil || v.kind != jsonObject {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w: got %s", name, ErrNotAnObject, kindOf(v))
	}

	dtypeVal, ok := v.get("dtype")
	if !ok {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w: %q", name, ErrMissingField, "dtype")
	}
	if dtypeVal.kind != jsonString {
		return TensorInfo{}, fmt.Errorf("tensor %q: \"dtype\" must be a string, got %s", name, dtypeVal.kind)
	}
	dt := DType(dtypeVal.str)
	if !dt.Valid() {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w: %q", name, ErrUnknownDtype, dtypeVal.str)
	}

	shapeVal, ok := v.get("shape")
	if !ok {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w: %q", name, ErrMissingField, "shape")
	}
	if shapeVal.kind != jsonArray {
		return TensorInfo{}, fmt.Errorf("tensor %q: \"shape\" must be an array, got %s", name, shapeVal.kind)
	}
	if len(shapeVal.arr) > MaxDim {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w: %d > %d", name, ErrTooManyDims, len(shapeVal.arr), MaxDim)
	}

	shape := make([]uint64, len(shapeVal.arr))
	empty := false
	for i, e := range shapeVal.arr {
		n, err := nonNegativeInt(e)
		if err != nil {
			return TensorInfo{}, fmt.Errorf("tensor %q: shape[%d]: %w", name, i, err)
		}
		shape[i] = n
		if n == 0 {
			empty = true
		}
	}

	offsets, err := parseDataOffsets(name, v, empty)
	if err != nil {
		return TensorInfo{}, err
	}

	return TensorInfo{Name: name, DType: dt, Shape: shape, DataOffsets: offsets}, nil
}

func parseDataOffsets(name string, obj *jsonValue, empty bool) ([2]uint64, error) {
	offsetsVal, hasOffsets := obj.get("data_offsets")
	switch {
	case empty && hasOffsets:
		return [2]uint64{}, fmt.Errorf("tensor %q: %w: empty tensor must not carry data_offsets", name, ErrBadOffsets)
	case empty:
		return [2]uint64{}, nil
	case !hasOffsets:
		return [2]uint64{}, fmt.Errorf("tensor %q: %w: %q", name, ErrMissingField, "data_offsets")
	}

	if offsetsVal.kind != jsonArray || len(offsetsVal.arr) != 2 {
		return [2]uint64{}, fmt.Errorf("tensor %q: %w: \"data_offsets\" must be a 2-element array", name, ErrBadOffsets)
	}
	begin, err := nonNegativeInt(offsetsVal.arr[0])
	if err != nil {
		return [2]uint64{}, fmt.Errorf("tensor %q: data_offsets[0]: %w", name, err)
	}
	end, err := nonNegativeInt(offsetsVal.arr[1])
	if err != nil {
		return [2]uint64{}, fmt.Errorf("tensor %q: data_offsets[1]: %w", name, err)
	}
	if end < begin {
		return [2]uint64{}, fmt.Errorf("tensor %q: %w: end %d < begin %d", name, ErrBadOffsets, end, begin)
	}
	return [2]uint64{begin, end}, nil
}

// nonNegativeInt validates that v is a JSON number that round-trips exactly
// as a non-negative integer strictly below 2^53, the largest magnitude an
// IEEE 754 double represents every integer of exactly. shape dimensions and
// data_offsets are the two places this coercion applies.
func nonNegativeInt(v *jsonValue) (uint64, error) {
	if v.kind != jsonNumber {
		return 0, fmt.Errorf("expected a number, got %s", v.kind)
	}
	const maxSafeInt = 1 << 53
	f := v.number
	if f < 0 || f != math.Trunc(f) || f >= maxSafeInt {
		return 0, fmt.Errorf("expected a non-negative integer below 2^53, got %v", f)
	}
	return uint64(f), nil
}
