package queue

import "errors"

var (
	// ErrJobNotFound wird geliefert, wenn kein Job mit der ID existiert.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrLeaseLost wird geliefert, wenn ein anderer Worker den Job inzwischen übernommen hat.
	ErrLeaseLost = errors.New("queue: lease lost")
	// ErrDuplicateFlow wird geliefert, wenn eine ID eines Flows bereits vergeben ist.
	ErrDuplicateFlow = errors.New("queue: flow job id already exists")
	// ErrStalled markiert Jobs, deren Lease öfter abgelaufen ist als Versuche erlaubt sind.
	ErrStalled = errors.New("queue: job stalled more than allowable limit")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent markiert einen Fehler als nicht wiederholbar: der Job wird sofort endgültig fehlgeschlagen.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent meldet, ob err (oder ein eingewickelter Fehler) mit Permanent markiert wurde.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
