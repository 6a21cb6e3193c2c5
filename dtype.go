// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import "fmt"

// DType identifies the element type of a tensor.
//
// It is a closed enumeration: values outside this set are rejected by the
// header validator with UnknownDtype.
type DType string

// The supported dtypes, matching the safetensors wire format exactly.
const (
	BOOL DType = "BOOL"
	U8   DType = "U8"
	I8   DType = "I8"
	U16  DType = "U16"
	I16  DType = "I16"
	F16  DType = "F16"
	BF16 DType = "BF16"
	U32  DType = "U32"
	I32  DType = "I32"
	F32  DType = "F32"
	F64  DType = "F64"
	U64  DType = "U64"
	I64  DType = "I64"
)

// dTypeToWordSize maps each dtype to its fixed element size in bytes.
var dTypeToWordSize = map[DType]uint64{
	BOOL: 1,
	U8:   1,
	I8:   1,
	U16:  2,
	I16:  2,
	F16:  2,
	BF16: 2,
	U32:  4,
	I32:  4,
	F32:  4,
	F64:  8,
	U64:  8,
	I64:  8,
}

// WordSize returns the size in bytes of one element of this dtype, or 0 if
// dt is not one of the constants above.
func (dt DType) WordSize() uint64 {
	return dTypeToWordSize[dt]
}

// Valid reports whether dt is one of the closed set of supported dtypes.
func (dt DType) Valid() bool {
	_, ok := dTypeToWordSize[dt]
	return ok
}

func (dt DType) String() string {
	return string(dt)
}

// MarshalJSON implements json.Marshaler, rejecting values outside the
// supported set. Neither Serialize nor the reader path calls it: Serialize
// writes the dtype string into the header directly, and the reader never
// round-trips DType through encoding/json, see jsonvalue.go.
func (dt DType) MarshalJSON() ([]byte, error) {
	if !dt.Valid() {
		return nil, fmt.Errorf("%q is not a valid DType", dt)
	}
	return []byte(`"` + string(dt) + `"`), nil
}
