package jobstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sungwon/mail-scheduler/internal/job"
)

// ErrIndexOutOfRange is returned when an edit or delete names a position
// that does not exist.
var ErrIndexOutOfRange = errors.New("jobstore: index out of range")

// ValidationError lists the problems that kept a job out of the store.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "jobstore: invalid job: " + strings.Join(e.Problems, "; ")
}

func validate(j job.Job) error {
	if problems := j.Validate(); len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Append adds j at the end of the pending set.
func Append(j job.Job) MutateFunc {
	return func(current []job.Job) ([]job.Job, error) {
		if err := validate(j); err != nil {
			return nil, err
		}
		return append(current, j), nil
	}
}

// Edit replaces the job at index with the result of fn.
func Edit(index int, fn func(existing job.Job) job.Job) MutateFunc {
	return func(current []job.Job) ([]job.Job, error) {
		if index < 0 || index >= len(current) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		updated := fn(current[index])
		if err := validate(updated); err != nil {
			return nil, err
		}
		current[index] = updated
		return current, nil
	}
}

// Delete removes the job at index and stores it in removed when non-nil.
func Delete(index int, removed *job.Job) MutateFunc {
	return func(current []job.Job) ([]job.Job, error) {
		if index < 0 || index >= len(current) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
		}
		if removed != nil {
			*removed = current[index]
		}
		return append(current[:index], current[index+1:]...), nil
	}
}

// Without removes one occurrence of each job in done, matching by content and
// keeping the order of everything else. Jobs in done that are no longer
// present (deleted or edited meanwhile) are ignored.
func Without(done []job.Job) MutateFunc {
	return func(current []job.Job) ([]job.Job, error) {
		pending := make(map[job.Job]int, len(done))
		for _, j := range done {
			pending[j]++
		}
		kept := make([]job.Job, 0, len(current))
		for _, j := range current {
			if pending[j] > 0 {
				pending[j]--
				continue
			}
			kept = append(kept, j)
		}
		return kept, nil
	}
}
