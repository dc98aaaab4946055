package loader

import (
	"errors"
	"fmt"
)

// Kind classifies a LoadError.
type Kind int

const (
	// Unreadable covers missing, truncated or corrupted datasets.
	Unreadable Kind = iota + 1
	// UnsupportedFormat is returned for extensions or payloads no driver handles.
	UnsupportedFormat
	// Empty is returned when a parcel source yields no geometry.
	Empty
)

// Sentinels matched by LoadError.Is, so callers can write
// errors.Is(err, loader.ErrEmpty).
var (
	ErrUnreadable        = errors.New("dataset unreadable")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	ErrEmpty             = errors.New("dataset has no geometry")
)

func (k Kind) String() string {
	switch k {
	case Unreadable:
		return "unreadable"
	case UnsupportedFormat:
		return "unsupported-format"
	case Empty:
		return "empty"
	}
	return "unknown"
}

func (k Kind) sentinel() error {
	switch k {
	case Unreadable:
		return ErrUnreadable
	case UnsupportedFormat:
		return ErrUnsupportedFormat
	case Empty:
		return ErrEmpty
	}
	return nil
}

// LoadError reports why a dataset could not be turned into a geometry table.
type LoadError struct {
	Kind Kind
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load %s: %s", e.Path, e.Kind)
	}
	return fmt.Sprintf("load %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error kind.
func (e *LoadError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func unreadable(path string, err error) error {
	return &LoadError{Kind: Unreadable, Path: path, Err: err}
}

func unsupported(path string, err error) error {
	return &LoadError{Kind: UnsupportedFormat, Path: path, Err: err}
}

func empty(path string, err error) error {
	return &LoadError{Kind: Empty, Path: path, Err: err}
}
