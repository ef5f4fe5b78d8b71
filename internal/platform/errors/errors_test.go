package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWrapAndInspect(t *testing.T) {
	cause := stderrs.New("connection reset")
	err := Wrapf(cause, ErrorCodeDownload, "fetch %s", "https://pay.example")
	if got := err.Error(); got != "fetch https://pay.example: connection reset" {
		t.Fatalf("Error() = %q", got)
	}
	if !IsCode(err, ErrorCodeDownload) || Root(err) != cause {
		t.Fatalf("code/root mismatch")
	}
	outer := fmt.Errorf("verify: %w", err)
	if CodeOf(outer) != ErrorCodeDownload {
		t.Fatalf("CodeOf through fmt wrap failed")
	}
	if WrapIf(nil, ErrorCodeDB, "x") != nil {
		t.Fatalf("WrapIf(nil) must be nil")
	}
}

func TestHTTPMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Newf(ErrorCodeValidation, "bad"), http.StatusBadRequest},
		{Parsef("bad manifest"), http.StatusBadGateway},
		{NotFoundf("gone"), http.StatusNotFound},
		{InvalidArgf("nope"), http.StatusUnprocessableEntity},
		{Unavailablef("down"), http.StatusServiceUnavailable},
		{stderrs.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got, _ := HTTP(c.err); got != c.want {
			t.Fatalf("HTTP(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestFieldAndOpAreCopyOnWrite(t *testing.T) {
	base := New(ErrorCodeValidation, "invalid")
	withField := WithField(base, "methods")
	withOp := WithOp(withField, "discover")

	e, _ := As(withOp)
	if e.Field() != "methods" || e.Op() != "discover" {
		t.Fatalf("field/op not set: %+v", e)
	}
	orig, _ := As(base)
	if orig.Field() != "" || orig.Op() != "" {
		t.Fatalf("base mutated")
	}
	if w := WireFrom(withOp); w.Field != "methods" || w.Code != ErrorCodeValidation {
		t.Fatalf("wire = %+v", w)
	}
	plain := stderrs.New("x")
	if WithField(plain, "f") != plain {
		t.Fatalf("foreign errors pass through")
	}
}

func TestPostgresMapping(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgErrCannotConnectNow}
	err := FromPostgres(pgErr, "cache get")
	if !IsCode(err, ErrorCodeUnavailable) || !IsRetryable(err) {
		t.Fatalf("starting-up server should be unavailable+retryable")
	}
	if IsRetryable(FromPostgres(&pgconn.PgError{Code: pgErrUniqueViolation}, "put")) {
		t.Fatalf("unique violation is not retryable")
	}
	if !IsCode(FromPostgres(&pgconn.PgError{Code: pgErrUndefinedTable}, "get"), ErrorCodeNotFound) {
		t.Fatalf("undefined table maps to not found")
	}
	if FromPostgres(nil, "x") != nil {
		t.Fatalf("nil stays nil")
	}
	if IsRetryable(Wrap(context.Canceled, ErrorCodeUnavailable, "x")) {
		t.Fatalf("cancellation is never retryable")
	}
	if !IsRetryable(stderrs.New("database is locked")) {
		t.Fatalf("sqlite busy should retry")
	}
}
