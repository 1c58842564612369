package sarscov2ts

import (
	"compress/bzip2"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"io"

	"github.com/carbocation/pfx"
	"github.com/krolaw/zipstream"
	"github.com/xi2/xz"
)

type DataType byte

const (
	DataTypeInvalid DataType = iota
	DataTypeNoCompression
	DataTypeGzip
	DataTypeZip
	DataTypeXZ
	DataTypeZ
	DataTypeBZip2
)

func (dt DataType) String() string {
	switch dt {
	case DataTypeNoCompression:
		return "uncompressed"
	case DataTypeGzip:
		return "gzip"
	case DataTypeZip:
		return "zip"
	case DataTypeXZ:
		return "xz"
	case DataTypeZ:
		return "zlib"
	case DataTypeBZip2:
		return "bzip2"
	}
	return "invalid"
}

var byteCodeSigs = map[DataType][]byte{
	DataTypeGzip:  {0x1f, 0x8b, 0x08},
	DataTypeZip:   {0x50, 0x4b, 0x03, 0x04},
	DataTypeXZ:    {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	DataTypeZ:     {0x1f, 0x9d},
	DataTypeBZip2: {0x42, 0x5a, 0x68},
}

// DetectDataType attempts to detect the data type of a stream by checking
// against a set of known data types. Byte code signatures from
// https://stackoverflow.com/a/19127748/199475
//
// Streams shorter than the longest signature (including empty ones) are
// reported as uncompressed.
func DetectDataType(r io.Reader) (DataType, error) {
	buff := make([]byte, 6)
	n, err := io.ReadFull(r, buff)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return DataTypeInvalid, err
	}
	buff = buff[:n]

	// Match known signatures
Outer:
	for dt, sig := range byteCodeSigs {
		if len(buff) < len(sig) {
			continue
		}
		for position := range sig {
			if buff[position] != sig[position] {
				continue Outer
			}
		}
		return dt, nil
	}

	return DataTypeNoCompression, nil
}

// MaybeDecompressReadCloser sniffs the first bytes of rs, rewinds it, and
// wraps it in the matching decompressor. Closing the result closes rs.
func MaybeDecompressReadCloser(rs ReadSeekCloser) (io.ReadCloser, DataType, error) {
	dt, err := DetectDataType(rs)
	if err != nil {
		return nil, dt, pfx.Err(err)
	}

	// The decompressors read their headers on construction, so rewind first.
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, dt, pfx.Err(err)
	}

	var r io.Reader
	switch dt {
	case DataTypeGzip:
		r, err = gzip.NewReader(rs)
	case DataTypeZip:
		// Only the first entry of an archive is read.
		zr := zipstream.NewReader(rs)
		_, err = zr.Next()
		r = zr
	case DataTypeBZip2:
		r = bzip2.NewReader(rs)
	case DataTypeXZ:
		r, err = xz.NewReader(rs, 0)
	case DataTypeZ:
		r, err = zlib.NewReader(rs)
	default:
		// No data type detected. For now, we assume this is uncompressed.
		return rs, dt, nil
	}
	if err != nil {
		return nil, dt, pfx.Err(err)
	}

	return &readCloserFaker{Reader: r, closer: rs}, dt, nil
}

// readCloserFaker "upgrades" decompressing readers so that closing them
// closes the underlying source.
type readCloserFaker struct {
	io.Reader
	closer io.Closer
}

func (c *readCloserFaker) Close() error {
	if rc, ok := c.Reader.(io.Closer); ok {
		rc.Close()
	}
	return c.closer.Close()
}
