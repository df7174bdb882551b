package core

type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultDegraded ResultStatus = "degraded"
)

// ReadResult is a typed read outcome. A degraded result carries an empty Data and the cause in Err,
// so callers can tell "nothing found" apart from "could not look".
type ReadResult[T any] struct {
	Data   []T
	Status ResultStatus
	Err    error
}

func OK[T any](data []T) ReadResult[T] {
	if data == nil {
		data = []T{}
	}
	return ReadResult[T]{Data: data, Status: ResultOK}
}

func Degraded[T any](err error) ReadResult[T] {
	return ReadResult[T]{Data: []T{}, Status: ResultDegraded, Err: err}
}

func (r ReadResult[T]) IsDegraded() bool { return r.Status == ResultDegraded }
