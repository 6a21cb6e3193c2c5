// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command stprobe prints a safetensors file's header (tensor directory and
// metadata), optionally validating data offsets or hex-dumping one tensor.
// By default it reads the whole file into memory; -mmap maps it instead.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tensorformat/safetensors"
)

func main() {
	log.SetFlags(0)

	var (
		useMmap  bool
		validate bool
		dump     string
	)
	flag.BoolVar(&useMmap, "mmap", false, "memory-map the file instead of reading it into memory")
	flag.BoolVar(&validate, "validate", false, "run ValidateDataOffsets and report its result")
	flag.StringVar(&dump, "dump", "", "hex-dump the named tensor's raw bytes to stdout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [options] file.safetensors\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	var (
		f   *safetensors.File
		err error
	)
	if useMmap {
		f, err = safetensors.MmapFromFile(path)
	} else {
		f, err = safetensors.LoadFromFile(path)
	}
	if err != nil {
		log.Fatalf("open %s: %v", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("close: %v", err)
		}
	}()

	fmt.Printf("mode: %s\n", f.Mode)
	fmt.Printf("header size: %d bytes\n", f.HeaderSize)
	fmt.Printf("tensors: %d\n", len(f.Tensors))
	for _, t := range f.Tensors {
		fmt.Printf("  %-40s %-6s shape=%v offsets=%v\n", t.Name, t.DType, t.Shape, t.DataOffsets)
	}
	if len(f.Metadata) > 0 {
		fmt.Println("metadata:")
		for _, e := range f.Metadata {
			fmt.Printf("  %s = %s\n", e.Key, e.Value)
		}
	}

	if validate {
		if f.ValidateDataOffsets() {
			fmt.Println("data_offsets: ok")
		} else {
			fmt.Printf("data_offsets: invalid: %s\n", f.LastError())
			os.Exit(1)
		}
	}

	if dump != "" {
		tensor, ok := f.Tensor(dump)
		if !ok {
			log.Fatalf("tensor %q not found or its data_offsets don't fit the file", dump)
		}
		fmt.Println(hex.Dump(tensor.Data))
	}
}
