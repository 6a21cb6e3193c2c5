// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSON_Scalars(t *testing.T) {
	tests := []struct {
		name string
		in   string
		kind jsonKind
	}{
		{"null", `null`, jsonNull},
		{"true", `true`, jsonBool},
		{"false", `false`, jsonBool},
		{"zero", `0`, jsonNumber},
		{"negative", `-42`, jsonNumber},
		{"fraction", `3.14`, jsonNumber},
		{"exponent", `1e10`, jsonNumber},
		{"string", `"hello"`, jsonString},
		{"empty object", `{}`, jsonObject},
		{"empty array", `[]`, jsonArray},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := parseJSON([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.kind, v.kind)
		})
	}
}

func TestParseJSON_Numbers(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0", 0},
		{"-0", 0},
		{"1", 1},
		{"-1", -1},
		{"3.14", 3.14},
		{"1e10", 1e10},
		{"1.5e-3", 1.5e-3},
		{"123456789", 123456789},
	}
	for i, tc := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v, err := parseJSON([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, jsonNumber, v.kind)
			require.Equal(t, tc.want, v.number)
		})
	}
}

func TestParseJSON_InvalidNumbers(t *testing.T) {
	tests := []string{
		"1.",  // no digit after '.'
		"1e",  // no digit in exponent
		"+1",  // leading '+' not allowed
		".5",  // no leading digit
		"--1", // minus with no digit following
		"-",   // minus alone
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := parseJSON([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestParseJSON_Strings(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"with \"quote\""`, `with "quote"`},
		{`"tab\tnewline\n"`, "tab\tnewline\n"},
		{`"backslash\\"`, `backslash\`},
		{`"unicode é"`, "unicode é"},
		{"\"surrogate \\ud83d\\ude00\"", "surrogate \U0001f600"},
	}
	for i, tc := range tests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			v, err := parseJSON([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, jsonString, v.kind)
			require.Equal(t, tc.want, v.str)
		})
	}
}

func TestParseJSON_StringErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unterminated", `"hello`},
		{"control char", "\"a\x01b\""},
		{"lone high surrogate", `"\ud83d"`},
		{"lone low surrogate", `"\ude00"`},
		{"bad escape", `"\q"`},
		{"short unicode escape", `"\u12"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseJSON([]byte(tc.in))
			require.Error(t, err)
		})
	}
}

func TestParseJSON_Object(t *testing.T) {
	v, err := parseJSON([]byte(`{"a":1,"b":{"c":2},"d":[1,2,3]}`))
	require.NoError(t, err)
	require.Equal(t, jsonObject, v.kind)
	require.Len(t, v.obj, 3)

	a, ok := v.get("a")
	require.True(t, ok)
	require.Equal(t, float64(1), a.number)

	b, ok := v.get("b")
	require.True(t, ok)
	c, ok := b.get("c")
	require.True(t, ok)
	require.Equal(t, float64(2), c.number)

	d, ok := v.get("d")
	require.True(t, ok)
	require.Equal(t, jsonArray, d.kind)
	require.Len(t, d.arr, 3)

	_, ok = v.get("missing")
	require.False(t, ok)
}

func TestParseJSON_DuplicateKeyRejected(t *testing.T) {
	_, err := parseJSON([]byte(`{"a":1,"a":2}`))
	require.Error(t, err)
}

func TestParseJSON_ObjectKeyOrderPreserved(t *testing.T) {
	v, err := parseJSON([]byte(`{"z":1,"a":2,"m":3}`))
	require.NoError(t, err)
	require.Equal(t, "z", v.obj[0].key)
	require.Equal(t, "a", v.obj[1].key)
	require.Equal(t, "m", v.obj[2].key)
}

func TestParseJSON_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty input", ""},
		{"unclosed object", `{"a":1`},
		{"unclosed array", `[1,2`},
		{"missing colon", `{"a" 1}`},
		{"missing comma in array", `[1 2]`},
		{"non-string key", `{1:2}`},
		{"trailing comma object", `{"a":1,}`},
		{"trailing comma array", `[1,]`},
		{"bad literal", `tru`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseJSON([]byte(tc.in))
			require.Error(t, err)
			var jerr *jsonError
			require.ErrorAs(t, err, &jerr)
		})
	}
}

func TestJSONErrorIncludesByteOffset(t *testing.T) {
	_, err := parseJSON([]byte(`{"a": tru}`))
	require.Error(t, err)
	var jerr *jsonError
	require.ErrorAs(t, err, &jerr)
	require.Equal(t, 6, jerr.offset)
}
