// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import (
	"fmt"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// jsonKind tags the variant held by a jsonValue.
type jsonKind int

const (
	jsonNull jsonKind = iota
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

func (k jsonKind) String() string {
	switch k {
	case jsonNull:
		return "null"
	case jsonBool:
		return "bool"
	case jsonNumber:
		return "number"
	case jsonString:
		return "string"
	case jsonArray:
		return "array"
	case jsonObject:
		return "object"
	default:
		return "unknown"
	}
}

// jsonMember is one key/value pair of a jsonObject, in source order.
type jsonMember struct {
	key   string
	value *jsonValue
}

// jsonValue is a parsed JSON tree node. Only the field matching kind is
// meaningful. Objects keep their pairs in source order and have already
// been checked for duplicate keys by the time parseJSON returns.
type jsonValue struct {
	kind    jsonKind
	boolean bool
	number  float64
	str     string
	arr     []*jsonValue
	obj     []jsonMember
}

// get looks up key in an object value. Reports ok=false for anything that
// is not an object, or where the key is absent.
func (v *jsonValue) get(key string) (*jsonValue, bool) {
	if v == nil || v.kind != jsonObject {
		return nil, false
	}
	for _, m := range v.obj {
		if m.key == key {
			return m.value, true
		}
	}
	return nil, false
}

// jsonError is a parse failure tagged with the byte offset into the input
// it was detected at, per spec: "return ... an error message with the byte
// offset of failure."
type jsonError struct {
	offset int
	msg    string
}

func (e *jsonError) Error() string {
	return fmt.Sprintf("%s (at byte offset %d)", e.msg, e.offset)
}

// jsonParser holds the cursor over the byte range being parsed. It never
// retains a reference to data past the call to parseJSON returning: every
// jsonValue it produces owns copies of the strings it needs (Go string
// values copy out of the backing array on construction), so the caller
// (e.g. a memory-mapped file) may discard or unmap the input afterward.
type jsonParser struct {
	data []byte
	pos  int
}

func parseJSON(data []byte) (*jsonValue, error) {
	p := &jsonParser{data: data}
	p.skipWhitespace()
	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p *jsonParser) errorf(format string, args ...any) error {
	return &jsonError{offset: p.pos, msg: fmt.Sprintf(format, args...)}
}

func (p *jsonParser) peek() (byte, bool) {
	if p.pos >= len(p.data) {
		return 0, false
	}
	return p.data[p.pos], true
}

// skipWhitespace consumes the ASCII whitespace the grammar allows between
// tokens: space, tab, newline, carriage return.
func (p *jsonParser) skipWhitespace() {
	for p.pos < len(p.data) {
		switch p.data[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *jsonParser) match(lit string) bool {
	if p.pos+len(lit) > len(p.data) {
		return false
	}
	if string(p.data[p.pos:p.pos+len(lit)]) != lit {
		return false
	}
	p.pos += len(lit)
	return true
}

func (p *jsonParser) parseValue() (*jsonValue, error) {
	p.skipWhitespace()
	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unexpected end of input")
	}
	switch {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		return p.parseString()
	case c == 't':
		if p.match("true") {
			return &jsonValue{kind: jsonBool, boolean: true}, nil
		}
	case c == 'f':
		if p.match("false") {
			return &jsonValue{kind: jsonBool, boolean: false}, nil
		}
	case c == 'n':
		if p.match("null") {
			return &jsonValue{kind: jsonNull}, nil
		}
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	}
	return nil, p.errorf("invalid value")
}

func (p *jsonParser) parseObject() (*jsonValue, error) {
	p.pos++ // consume '{'
	v := &jsonValue{kind: jsonObject}
	p.skipWhitespace()
	if c, ok := p.peek(); ok && c == '}' {
		p.pos++
		return v, nil
	}
	for {
		p.skipWhitespace()
		if c, ok := p.peek(); !ok || c != '"' {
			return nil, p.errorf("expected string key in object")
		}
		keyVal, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if c, ok := p.peek(); !ok || c != ':' {
			return nil, p.errorf("expected ':' after object key")
		}
		p.pos++

		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}

		for _, m := range v.obj {
			if m.key == keyVal.str {
				return nil, p.errorf("duplicate object key %q", keyVal.str)
			}
		}
		v.obj = append(v.obj, jsonMember{key: keyVal.str, value: val})

		p.skipWhitespace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unclosed object")
		}
		if c == '}' {
			p.pos++
			return v, nil
		}
		if c != ',' {
			return nil, p.errorf("expected ',' or '}' in object")
		}
		p.pos++
	}
}

func (p *jsonParser) parseArray() (*jsonValue, error) {
	p.pos++ // consume '['
	v := &jsonValue{kind: jsonArray}
	p.skipWhitespace()
	if c, ok := p.peek(); ok && c == ']' {
		p.pos++
		return v, nil
	}
	for {
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		v.arr = append(v.arr, val)

		p.skipWhitespace()
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unclosed array")
		}
		if c == ']' {
			p.pos++
			return v, nil
		}
		if c != ',' {
			return nil, p.errorf("expected ',' or ']' in array")
		}
		p.pos++
	}
}

func (p *jsonParser) parseString() (*jsonValue, error) {
	if c, ok := p.peek(); !ok || c != '"' {
		return nil, p.errorf("expected string")
	}
	p.pos++

	var buf []byte
	for {
		if p.pos >= len(p.data) {
			return nil, p.errorf("unterminated string")
		}
		c := p.data[p.pos]
		if c == '"' {
			p.pos++
			if !utf8.Valid(buf) {
				return nil, p.errorf("invalid UTF-8 in string")
			}
			return &jsonValue{kind: jsonString, str: string(buf)}, nil
		}
		if c < 0x20 {
			return nil, p.errorf("control character in string")
		}
		if c != '\\' {
			buf = append(buf, c)
			p.pos++
			continue
		}

		p.pos++
		if p.pos >= len(p.data) {
			return nil, p.errorf("unterminated escape")
		}
		esc := p.data[p.pos]
		switch esc {
		case '"', '\\', '/':
			buf = append(buf, esc)
			p.pos++
		case 'b':
			buf = append(buf, '\b')
			p.pos++
		case 'f':
			buf = append(buf, '\f')
			p.pos++
		case 'n':
			buf = append(buf, '\n')
			p.pos++
		case 'r':
			buf = append(buf, '\r')
			p.pos++
		case 't':
			buf = append(buf, '\t')
			p.pos++
		case 'u':
			p.pos++
			r, err := p.parseUnicodeEscape()
			if err != nil {
				return nil, err
			}
			var tmp [utf8.UTFMax]byte
			n := utf8.EncodeRune(tmp[:], r)
			buf = append(buf, tmp[:n]...)
		default:
			return nil, p.errorf("invalid escape character %q", esc)
		}
	}
}

// hex4 reads exactly 4 hex digits, the body of a \uXXXX escape.
func (p *jsonParser) hex4() (int, bool) {
	if p.pos+4 > len(p.data) {
		return 0, false
	}
	v := 0
	for i := 0; i < 4; i++ {
		c := p.data[p.pos+i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'f':
			d = int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int(c-'A') + 10
		default:
			return 0, false
		}
		v = v<<4 | d
	}
	p.pos += 4
	return v, true
}

// parseUnicodeEscape handles \uXXXX, including a trailing low surrogate
// when the first escape was a high surrogate.
func (p *jsonParser) parseUnicodeEscape() (rune, error) {
	cp, ok := p.hex4()
	if !ok {
		return 0, p.errorf("invalid \\u escape")
	}
	switch {
	case cp >= 0xd800 && cp <= 0xdbff:
		if p.pos+2 > len(p.data) || p.data[p.pos] != '\\' || p.data[p.pos+1] != 'u' {
			return 0, p.errorf("lone high surrogate in \\u escape")
		}
		p.pos += 2
		low, ok := p.hex4()
		if !ok {
			return 0, p.errorf("invalid low surrogate \\u escape")
		}
		if low < 0xdc00 || low > 0xdfff {
			return 0, p.errorf("invalid low surrogate \\u escape")
		}
		return utf16.DecodeRune(rune(cp), rune(low)), nil
	case cp >= 0xdc00 && cp <= 0xdfff:
		return 0, p.errorf("lone low surrogate in \\u escape")
	default:
		return rune(cp), nil
	}
}

func (p *jsonParser) parseNumber() (*jsonValue, error) {
	start := p.pos
	if c, ok := p.peek(); ok && c == '-' {
		p.pos++
	}

	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("invalid number")
	}
	switch {
	case c == '0':
		p.pos++
	case c >= '1' && c <= '9':
		p.pos++
		for {
			d, ok := p.peek()
			if !ok || d < '0' || d > '9' {
				break
			}
			p.pos++
		}
	default:
		return nil, p.errorf("invalid number")
	}

	if c, ok := p.peek(); ok && c == '.' {
		p.pos++
		d, ok := p.peek()
		if !ok || d < '0' || d > '9' {
			return nil, p.errorf("invalid number: expected digit after '.'")
		}
		for {
			d, ok := p.peek()
			if !ok || d < '0' || d > '9' {
				break
			}
			p.pos++
		}
	}

	if c, ok := p.peek(); ok && (c == 'e' || c == 'E') {
		p.pos++
		if s, ok := p.peek(); ok && (s == '+' || s == '-') {
			p.pos++
		}
		d, ok := p.peek()
		if !ok || d < '0' || d > '9' {
			return nil, p.errorf("invalid number exponent")
		}
		for {
			d, ok := p.peek()
			if !ok || d < '0' || d > '9' {
				break
			}
			p.pos++
		}
	}

	f, err := strconv.ParseFloat(string(p.data[start:p.pos]), 64)
	if err != nil {
		return nil, p.errorf("invalid number: %v", err)
	}
	return &jsonValue{kind: jsonNumber, number: f}, nil
}
