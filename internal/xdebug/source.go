package xdebug

import (
	"archive/zip"
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	zipMagic  = []byte("PK\x03\x04")
)

// source is an opened trace stream together with everything that has to be
// closed once it is consumed, innermost first.
type source struct {
	io.Reader
	closers []func() error
}

func (s *source) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSource opens a trace file. Gzip files (written by Xdebug with
// use_compression) and zstd files are decompressed on the fly; for a zip
// archive the first *.xt member is read.
func openSource(filePath string) (*source, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return &source{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil

	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		closeDec := func() error {
			dec.Close()
			return nil
		}
		return &source{Reader: dec, closers: []func() error{closeDec, f.Close}}, nil

	case bytes.HasPrefix(magic, zipMagic):
		f.Close()
		return openArchive(filePath)
	}

	return &source{Reader: br, closers: []func() error{f.Close}}, nil
}

func openArchive(filePath string) (*source, error) {
	reader, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip file: %w", err)
	}

	var member *zip.File
	for _, file := range reader.File {
		if file.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(file.Name), ".xt") {
			member = file
			break
		}
		if member == nil {
			member = file
		}
	}
	if member == nil {
		reader.Close()
		return nil, fmt.Errorf("zip file contains no trace")
	}

	rc, err := member.Open()
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to open file %s in zip: %w", member.Name, err)
	}
	return &source{Reader: rc, closers: []func() error{rc.Close, reader.Close}}, nil
}
