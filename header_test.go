// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestValidateHeader_Simple(t *testing.T) {
	root, err := parseJSON([]byte(`{"test":{"dtype":"I32","shape":[2,2],"data_offsets":[0,16]},"__metadata__":{"foo":"bar"}}`))
	require.NoError(t, err)

	tensors, metadata, err := validateHeader(root)
	require.NoError(t, err)

	want := []TensorInfo{{Name: "test", DType: I32, Shape: []uint64{2, 2}, DataOffsets: [2]uint64{0, 16}}}
	if diff := cmp.Diff(want, tensors); diff != "" {
		t.Errorf("tensors (-want +got):\n%s", diff)
	}
	wantMeta := []MetadataEntry{{Key: "foo", Value: "bar"}}
	if diff := cmp.Diff(wantMeta, metadata); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}
}

func TestValidateHeader_EmptyShapeAllowed(t *testing.T) {
	root, err := parseJSON([]byte(`{"test":{"dtype":"I32","shape":[],"data_offsets":[0,4]}}`))
	require.NoError(t, err)
	_, _, err = validateHeader(root)
	require.NoError(t, err)
}

func TestValidateHeader_ZeroSizedTensorForbidsOffsets(t *testing.T) {
	root, err := parseJSON([]byte(`{"test":{"dtype":"I32","shape":[2,0],"data_offsets":[0,0]}}`))
	require.NoError(t, err)
	_, _, err = validateHeader(root)
	require.ErrorIs(t, err, ErrBadOffsets)
}

func TestValidateHeader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{
			"root not an object",
			`[1,2,3]`,
			ErrNotAnObject,
		},
		{
			"missing dtype",
			`{"test":{"shape":[2,2],"data_offsets":[0,16]}}`,
			ErrMissingField,
		},
		{
			"missing shape",
			`{"test":{"dtype":"I32","data_offsets":[0,16]}}`,
			ErrMissingField,
		},
		{
			"missing data_offsets",
			`{"test":{"dtype":"I32","shape":[2,2]}}`,
			ErrMissingField,
		},
		{
			"unknown dtype",
			`{"test":{"dtype":"FP9","shape":[2,2],"data_offsets":[0,16]}}`,
			ErrUnknownDtype,
		},
		{
			"too many dims",
			`{"test":{"dtype":"I32","shape":[1,1,1,1,1,1,1,1,1],"data_offsets":[0,4]}}`,
			ErrTooManyDims,
		},
		{
			"data_offsets end before begin",
			`{"test":{"dtype":"I32","shape":[1],"data_offsets":[4,0]}}`,
			ErrBadOffsets,
		},
		{
			"tensor info not an object",
			`{"test":1}`,
			ErrNotAnObject,
		},
		{
			"metadata not an object",
			`{"__metadata__":1}`,
			ErrNotAnObject,
		},
		{
			"metadata value not a string",
			`{"__metadata__":{"foo":1}}`,
			nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root, err := parseJSON([]byte(tc.in))
			require.NoError(t, err)
			_, _, err = validateHeader(root)
			require.Error(t, err)
			if tc.wantErr != nil {
				require.True(t, errors.Is(err, tc.wantErr), "got error %v, want wrapping %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateHeader_NonNegativeIntBounds(t *testing.T) {
	root, err := parseJSON([]byte(`{"test":{"dtype":"I32","shape":[-1],"data_offsets":[0,4]}}`))
	require.NoError(t, err)
	_, _, err = validateHeader(root)
	require.Error(t, err)
}

func TestValidateHeader_ShapeNotInteger(t *testing.T) {
	root, err := parseJSON([]byte(`{"test":{"dtype":"I32","shape":[1.5],"data_offsets":[0,4]}}`))
	require.NoError(t, err)
	_, _, err = validateHeader(root)
	require.Error(t, err)
}
