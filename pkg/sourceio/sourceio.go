// Package sourceio abstracts reading surface-language source and writing
// emitted C/compiled binaries behind an afs.Service, so the driver can
// target mem:// in tests and local disk in the CLI without branching.
package sourceio

import (
	"bytes"
	"context"
	"fmt"

	"github.com/viant/afs"
)

// Source reads and writes compilation artifacts through a uniform
// storage.Service, following the fs-field pattern used throughout the
// retrieved corpus's analyzer/inspector packages.
type Source struct {
	fs afs.Service
}

func New() *Source {
	return &Source{fs: afs.New()}
}

// ReadProgram downloads the surface-language source at url (file://,
// mem://, or any scheme afs supports).
func (s *Source) ReadProgram(ctx context.Context, url string) ([]byte, error) {
	data, err := s.fs.DownloadWithURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("read program %s: %w", url, err)
	}
	return data, nil
}

// WriteC uploads generated C source to url.
func (s *Source) WriteC(ctx context.Context, url string, src []byte) error {
	if err := s.fs.Upload(ctx, url, 0644, bytes.NewReader(src)); err != nil {
		return fmt.Errorf("write C source %s: %w", url, err)
	}
	return nil
}

// WriteBinary uploads a compiled host binary to url with executable
// permissions.
func (s *Source) WriteBinary(ctx context.Context, url string, data []byte) error {
	if err := s.fs.Upload(ctx, url, 0755, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write binary %s: %w", url, err)
	}
	return nil
}

// Exists reports whether url already has content, used to skip
// recompiling an unchanged translation unit.
func (s *Source) Exists(ctx context.Context, url string) bool {
	obj, err := s.fs.Object(ctx, url)
	return err == nil && obj != nil
}
