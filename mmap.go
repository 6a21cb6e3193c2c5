// Copyright 2024 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package safetensors

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// platformMap is the small open/size/map, unmap/close seam between the
// loader and the OS that spec.md asks for so "the loader never sees OS
// types". github.com/edsrzf/mmap-go already picks the right POSIX mmap(2)
// or Windows CreateFileMapping/MapViewOfFile calls at build time; this
// wrapper adds the policy on top: the file handle stays open until Close,
// matching the conservative policy of the teacher's Mapped type and of
// original_source/csafetensors.c's POSIX backend.
type platformMap struct {
	f      *os.File
	m      mmap.MMap
	closed bool
}

// openPlatformMap opens name read-only and maps it into memory.
func openPlatformMap(name string) (*platformMap, error) {
	f, err := os.OpenFile(name, os.O_RDONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &CodedError{Code: FileNotFound, Err: err}
		}
		return nil, &CodedError{Code: FileRead, Err: err}
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, &CodedError{Code: MmapFailed, Err: fmt.Errorf("mmap %s: %w", name, err)}
	}
	return &platformMap{f: f, m: m}, nil
}

// Bytes returns the mapped region. Valid until Close.
func (p *platformMap) Bytes() []byte {
	return p.m
}

// Close unmaps the region and closes the file handle. Idempotent: a second
// call is a no-op, matching the release-path discipline spec.md requires
// ("double-destroy is a no-op").
func (p *platformMap) Close() error {
	if p == nil || p.closed {
		return nil
	}
	p.closed = true
	err := p.m.Unmap()
	if err2 := p.f.Close(); err == nil {
		err = err2
	}
	return err
}
