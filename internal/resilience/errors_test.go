package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"explicit transient", NewTransientError(errors.New("boom")), true},
		{"wrapped transient", fmt.Errorf("op: %w", NewTransientError(errors.New("boom"))), true},
		{"econnreset", syscall.ECONNRESET, true},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"sqlite busy text", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"sqlite table locked text", errors.New("database table is locked"), true},
		{"broken pipe text", errors.New("write: broken pipe"), true},
		{"pg connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"pg insufficient resources", &pgconn.PgError{Code: "53300"}, true},
		{"pg serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"pg deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"pg unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"pg undefined table", &pgconn.PgError{Code: "42P01"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewTransientError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "root cause", err.Error())
}
