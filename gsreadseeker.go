package sarscov2ts

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

type ReadSeekCloser interface {
	io.Reader
	io.Seeker
	io.Closer
}

// Decorates a Google Storage object handle with io.Reader, io.Seeker and
// io.Closer. Derived from
// https://github.com/googleapis/google-cloud-go/issues/1124#issuecomment-419070541
type GSReadSeekCloser struct {
	*storage.ObjectHandle
	Context context.Context
	r       *storage.Reader
	offset  int64 // offset the current range reader started at
	pos     int64 // bytes read since offset
	Closer  func() error
}

func (s *GSReadSeekCloser) Read(buf []byte) (int, error) {
	var err error
	if s.r == nil {
		s.r, err = s.NewRangeReader(s.Context, s.offset, -1)
		if err != nil {
			return 0, err
		}
	}
	n, err := s.r.Read(buf)
	s.pos += int64(n)

	return n, err
}

// Seek is emulated: the current range reader is dropped and the next Read
// opens a new one at the requested offset.
func (s *GSReadSeekCloser) Seek(offset int64, whence int) (int64, error) {
	var newOffset int64

	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekCurrent:
		newOffset = s.offset + s.pos + offset
	default:
		return 0, fmt.Errorf("io.Seeker 'whence' value %d is not implemented", whence)
	}
	if newOffset < 0 {
		return 0, fmt.Errorf("negative seek offset %d", newOffset)
	}

	if s.r != nil {
		s.r.Close()
		s.r = nil
	}

	s.offset = newOffset
	s.pos = 0

	return s.offset, nil
}

// Satisfies io.Closer. Closes any open range reader, then calls Closer if set.
func (s *GSReadSeekCloser) Close() error {
	if s.r != nil {
		s.r.Close()
		s.r = nil
	}
	if s.Closer != nil {
		return s.Closer()
	}

	return nil
}

// IsGoogleStoragePath reports whether path names a gs:// object.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, "gs://")
}

// splitGoogleStoragePath splits gs://bucket/object into its bucket and object
// names.
func splitGoogleStoragePath(path string) (bucket, object string, err error) {
	pathParts := strings.SplitN(strings.TrimPrefix(path, "gs://"), "/", 2)
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		return "", "", fmt.Errorf("google storage path %q needs both a bucket and an object name", path)
	}

	return pathParts[0], pathParts[1], nil
}

// MaybeOpenSeekerFromGoogleStorage opens path from Google Storage when it is a
// gs:// path and client is non-nil, and from the local filesystem otherwise.
// The size of the object is returned alongside the handle.
func MaybeOpenSeekerFromGoogleStorage(ctx context.Context, path string, client *storage.Client) (ReadSeekCloser, int64, error) {
	if client != nil && IsGoogleStoragePath(path) {
		bucketName, pathName, err := splitGoogleStoragePath(path)
		if err != nil {
			return nil, 0, err
		}

		handle := client.Bucket(bucketName).Object(pathName)

		wrappedHandle := &GSReadSeekCloser{
			ObjectHandle: handle,
			Context:      ctx,
		}

		// Make a hard call to get the filesize
		attrs, err := wrappedHandle.ObjectHandle.Attrs(wrappedHandle.Context)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		return wrappedHandle, attrs.Size, nil
	}

	local, err := ExpandHome(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, 0, pfx.Err(err)
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, pfx.Err(err)
	}
	return f, fstat.Size(), nil
}

// OpenInput opens a local or gs:// input file, transparently decompressing it.
// A storage client is only created for gs:// paths and is closed along with
// the returned reader.
func OpenInput(ctx context.Context, path string) (io.ReadCloser, error) {
	var client *storage.Client
	if IsGoogleStoragePath(path) {
		var err error
		client, err = storage.NewClient(ctx)
		if err != nil {
			return nil, pfx.Err(err)
		}
	}

	rs, _, err := MaybeOpenSeekerFromGoogleStorage(ctx, path, client)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, err
	}
	if gs, ok := rs.(*GSReadSeekCloser); ok {
		gs.Closer = client.Close
	}

	rc, _, err := MaybeDecompressReadCloser(rs)
	if err != nil {
		rs.Close()
		return nil, err
	}

	return rc, nil
}
