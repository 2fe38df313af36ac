// Package dvf supplies transaction records from the "Demandes de Valeurs
// Foncières" open dataset, or a synthetic stand-in for demonstrations.
package dvf

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"estimateur/server/internal/models"
)

// Source returns the residential sales of a commune identified by its INSEE code.
type Source interface {
	Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error)
}

// UnavailableError reports that a source could not provide usable records.
// Reason is meant to be shown to the user as is.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	return e.Reason
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(format string, args ...interface{}) *UnavailableError {
	return &UnavailableError{Reason: fmt.Sprintf(format, args...)}
}

// IsUnavailable reports whether err is, or wraps, an UnavailableError.
func IsUnavailable(err error) (*UnavailableError, bool) {
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// FallbackSource tries Primary first and switches to Secondary only when
// Primary reports itself unavailable.
type FallbackSource struct {
	Primary   Source
	Secondary Source
	Logger    *logrus.Logger
}

// Remote returns the primary source, for callers that must not be served
// from the fallback.
func (f *FallbackSource) Remote() Source {
	return f.Primary
}

func (f *FallbackSource) Fetch(ctx context.Context, inseeCode string) ([]models.Transaction, error) {
	records, err := f.Primary.Fetch(ctx, inseeCode)
	if err == nil {
		return records, nil
	}
	primaryErr, ok := IsUnavailable(err)
	if !ok || f.Secondary == nil {
		return nil, err
	}

	if f.Logger != nil {
		f.Logger.WithFields(logrus.Fields{
			"insee_code": inseeCode,
			"reason":     primaryErr.Reason,
		}).Warn("Primary source unavailable, using fallback")
	}

	records, err = f.Secondary.Fetch(ctx, inseeCode)
	if err != nil || len(records) == 0 {
		// the primary reason is the one worth showing
		return nil, primaryErr
	}
	return records, nil
}
