package ocr

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failures the handler reports.
type ErrorKind int

const (
	KindImageLoad ErrorKind = iota + 1
	KindInference
)

func (k ErrorKind) String() string {
	switch k {
	case KindImageLoad:
		return "failed to load image"
	case KindInference:
		return "inference error"
	default:
		return "unknown error"
	}
}

var (
	ErrImageRequired = errors.New("image_url or image_b64 is required")
	ErrBadBase64     = errors.New("invalid base64 image data")
	ErrFetch         = errors.New("image fetch failed")
	ErrFormat        = errors.New("cannot identify image file")
)

type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Detail }

func (e *Error) Unwrap() error { return e.Err }

func imageLoadError(err error) *Error {
	return &Error{Kind: KindImageLoad, Detail: err.Error(), Err: err}
}

func inferenceError(err error) *Error {
	return &Error{Kind: KindInference, Detail: err.Error(), Err: err}
}

// KindOf returns the kind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// wrapf keeps the sentinel reachable through errors.Is while leading the message with detail.
func wrapf(sentinel error, format string, args ...any) error {
	return &detailError{sentinel: sentinel, msg: fmt.Sprintf(format, args...)}
}

type detailError struct {
	sentinel error
	msg      string
}

func (e *detailError) Error() string { return e.msg }

func (e *detailError) Is(target error) bool { return target == e.sentinel }
