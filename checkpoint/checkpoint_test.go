package checkpoint

import (
	"errors"
	"io"
	"strings"
	"testing"
)

var (
	errSentinel = errors.New("sentinel")
	errCause    = errors.New("cause")
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantNil bool
		wantRaw bool
	}{
		{name: "nil stays nil", err: nil, wantNil: true},
		{name: "io.EOF is returned directly", err: io.EOF, wantRaw: true},
		{name: "io.ErrUnexpectedEOF is returned directly", err: io.ErrUnexpectedEOF, wantRaw: true},
		{name: "other errors get a checkpoint", err: errCause},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Errorf("From() = %v, want nil", got)
				}
				return
			}
			if tt.wantRaw && got != tt.err {
				t.Errorf("From() = %v, want %v unchanged", got, tt.err)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("From() = %v, does not wrap %v", got, tt.err)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name    string
		prev    error
		err     error
		wantNil bool
		wantIs  []error
	}{
		{name: "nil prev", prev: nil, err: errSentinel, wantNil: true},
		{name: "io.EOF stays io.EOF", prev: io.EOF, err: errSentinel, wantIs: []error{io.EOF}},
		{name: "both errors are reachable", prev: errCause, err: errSentinel, wantIs: []error{errCause, errSentinel}},
		{name: "nested checkpoints", prev: Wrap(errCause, errSentinel), err: io.ErrShortWrite, wantIs: []error{errCause, errSentinel, io.ErrShortWrite}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.prev, tt.err)
			if tt.wantNil {
				if got != nil {
					t.Errorf("Wrap() = %v, want nil", got)
				}
				return
			}
			for _, want := range tt.wantIs {
				if !errors.Is(got, want) {
					t.Errorf("Wrap() = %v, errors.Is(%v) = false", got, want)
				}
			}
		})
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errSentinel, "cluster %d", 42)
	if !errors.Is(err, errSentinel) {
		t.Errorf("Wrapf() = %v, does not wrap the sentinel", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "cluster 42") || !strings.Contains(msg, "sentinel") {
		t.Errorf("Wrapf().Error() = %q, want the detail and the sentinel", msg)
	}
	if !strings.Contains(msg, "checkpoint_test.go") {
		t.Errorf("Wrapf().Error() = %q, want the caller location", msg)
	}
}
