// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package safetensors

import "math"

// BF16ToF32 converts a bfloat16 bit pattern to float32.
//
// bfloat16 is simply the upper 16 bits of a float32, so conversion is a
// zero-cost widening: sign, exponent, and the top 7 mantissa bits are
// preserved verbatim, and infinities/NaNs round-trip exactly.
func BF16ToF32(x uint16) float32 {
	return math.Float32frombits(uint32(x) << 16)
}

// F32ToBF16 converts a float32 to bfloat16, rounding to nearest-even.
func F32ToBF16(x float32) uint16 {
	u := math.Float32bits(x)

	// Inf or NaN: exponent field is all-ones.
	if (^u & 0x7f800000) == 0 {
		if u&0xffff != 0 {
			// Force bit 16 so a signaling NaN stays a NaN after truncation.
			u |= 0x10000
		}
	} else {
		// Round to nearest-even: add the halfway point, biased by the
		// low bit of what will become the result so ties round to even.
		u += 0x7fff + ((u >> 16) & 1)
	}
	return uint16(u >> 16)
}

// F16ToF32 converts an IEEE 754 half-precision bit pattern to float32.
//
// Uses the "magic constant" technique: the half's exponent is re-biased
// from 15 to 127 unconditionally, then Inf/NaN and denormals are corrected
// after the fact.
func F16ToF32(x uint16) float32 {
	const shiftedExp uint32 = 0x7c00 << 13

	u := uint32(x&0x7fff) << 13
	exp := shiftedExp & u
	u += (127 - 15) << 23

	switch exp {
	case shiftedExp:
		// Inf or NaN.
		u += (128 - 16) << 23
	case 0:
		// Denormal: renormalize by subtracting the magic constant in
		// float space after bumping the exponent by one.
		u += 1 << 23
		magic := math.Float32frombits(113 << 23)
		f := math.Float32frombits(u) - magic
		u = math.Float32bits(f)
	}

	u |= uint32(x&0x8000) << 16
	return math.Float32frombits(u)
}

// F32ToF16 converts a float32 to an IEEE 754 half-precision bit pattern,
// rounding to nearest-even. Overflow saturates to signed infinity;
// underflow produces a signed zero or a subnormal per IEEE 754 rules.
func F32ToF16(x float32) uint16 {
	u := math.Float32bits(x)

	sign := uint16((u >> 16) & 0x8000)
	exp := (u >> 23) & 0xff
	mant := u & 0x7fffff

	switch {
	case exp == 0:
		// Zero or a float32 subnormal, both flush to half-precision zero.
		return sign
	case exp == 0xff:
		// Inf or NaN.
		if mant != 0 {
			return sign | 0x7c00 | 0x200
		}
		return sign | 0x7c00
	}

	newExp := int(exp) - 127 + 15
	switch {
	case newExp >= 31:
		// Overflow: saturate to infinity.
		return sign | 0x7c00
	case newExp <= 0:
		if 14-newExp > 24 {
			// Too small even for a subnormal: flush to zero.
			return sign
		}
		// Subnormal half: shift the implicit-1 mantissa into place and
		// round to nearest-even using the bits below the kept range.
		m := mant | 0x800000
		shift := uint(14 - newExp)
		result := sign | uint16(m>>shift)
		roundBit := uint32(1) << (shift - 1)
		if m&roundBit != 0 && (m&(roundBit-1) != 0 || result&1 != 0) {
			result++
		}
		return result
	default:
		// Round to nearest-even: round up when the first dropped bit is
		// set and either a lower dropped bit or the kept low bit is set.
		result := sign | uint16(newExp<<10) | uint16(mant>>13)
		if mant&0x1000 != 0 && mant&0x2fff != 0 {
			result++
		}
		return result
	}
}
