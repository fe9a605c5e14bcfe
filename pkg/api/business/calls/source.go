package calls

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

var (
	ErrMalformedRecord = errors.New("malformed record")
	ErrLineNotFound    = errors.New("line not found")
)

// Source yields requests in input order. Every call to Requests starts a fresh
// pass over the underlying data.
type Source interface {
	Name() string
	Requests() iter.Seq2[Request, error]
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*BytesSource)(nil)
	_ Source = (*SliceSource)(nil)
)

type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string {
	return s.path
}

func (s *FileSource) Requests() iter.Seq2[Request, error] {
	return func(yield func(Request, error) bool) {
		file, err := os.Open(s.path)
		if err != nil {
			yield(Request{}, fmt.Errorf("failed to open request file %s: %w", s.path, err))

			return
		}
		defer file.Close() //nolint:errcheck

		for req, err := range decodeRequests(s.path, file) {
			if !yield(req, err) {
				return
			}
		}
	}
}

type BytesSource struct {
	name string
	data []byte
}

func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

func (s *BytesSource) Name() string {
	return s.name
}

func (s *BytesSource) Requests() iter.Seq2[Request, error] {
	return decodeRequests(s.name, bytes.NewReader(s.data))
}

type SliceSource struct {
	name     string
	requests []Request
}

func NewSliceSource(name string, requests ...Request) *SliceSource {
	return &SliceSource{name: name, requests: requests}
}

func (s *SliceSource) Name() string {
	return s.name
}

func (s *SliceSource) Requests() iter.Seq2[Request, error] {
	return func(yield func(Request, error) bool) {
		for _, req := range s.requests {
			if !yield(req, nil) {
				return
			}
		}
	}
}

// decodeRequests reads newline-delimited JSON requests. Blank lines are
// skipped; the first malformed line ends the sequence with an error naming
// the source and the 1-based line number.
func decodeRequests(name string, r io.Reader) iter.Seq2[Request, error] {
	return func(yield func(Request, error) bool) {
		reader := bufio.NewReader(r)
		lineNo := 0

		for {
			line, readErr := reader.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++

				trimmed := bytes.TrimSpace(line)
				if len(trimmed) > 0 {
					req, err := decodeRequest(trimmed)
					if err != nil {
						yield(Request{}, fmt.Errorf("%w: %s line %d: %w", ErrMalformedRecord, name, lineNo, err))

						return
					}

					if !yield(req, nil) {
						return
					}
				}
			}

			if errors.Is(readErr, io.EOF) {
				return
			}

			if readErr != nil {
				yield(Request{}, fmt.Errorf("failed to read %s: %w", name, readErr))

				return
			}
		}
	}
}

func decodeRequest(line []byte) (Request, error) {
	var req Request

	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, err
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}

	return req, nil
}

// ReadLine returns the request stored as the n-th (0-based) record of src.
func ReadLine(src Source, n int) (Request, error) {
	if n < 0 {
		return Request{}, fmt.Errorf("%w: %d in %s", ErrLineNotFound, n, src.Name())
	}

	i := 0

	for req, err := range src.Requests() {
		if err != nil {
			return Request{}, err
		}

		if i == n {
			return req, nil
		}

		i++
	}

	return Request{}, fmt.Errorf("%w: %d in %s (%d records)", ErrLineNotFound, n, src.Name(), i)
}
