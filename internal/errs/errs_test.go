package errs

import (
	"errors"
	"testing"
)

func TestError_HTTPStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindAlreadyRegistered, 409},
		{KindNotFound, 404},
		{KindUnsupportedResolution, 400},
		{KindQueryTimeout, 408},
		{KindInternal, 500},
	}
	for _, c := range cases {
		e := New(c.kind, "x")
		if got := e.HTTPStatus(); got != c.want {
			t.Errorf("kind %v: HTTPStatus() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(KindTransport, "wrapped", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
}

func TestIs_MatchesKindOnly(t *testing.T) {
	e := New(KindAlreadyRegistered, "dup")
	if !Is(e, KindAlreadyRegistered) {
		t.Fatal("expected Is to match same kind")
	}
	if Is(e, KindNotFound) {
		t.Fatal("expected Is to reject different kind")
	}
	if Is(errors.New("plain"), KindAlreadyRegistered) {
		t.Fatal("expected Is to reject non-*Error values")
	}
}
