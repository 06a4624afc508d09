// Package job implements the shell's background job table: one entry
// per process group started with '&', tracked so that "jobs", "fg" and
// "bg" can report on and resume them.
package job

import (
	"fmt"
	"strconv"
	"syscall"
)

// State is a job's run state.
type State int

const (
	Running State = iota
	Stopped
	Done
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return "Running"
	}
}

// Job is one backgrounded pipeline: a process group plus the exit
// status of its last stage once it finishes.
type Job struct {
	ID         int
	Pgid       int
	Command    string
	State      State
	ExitStatus int
}

func (j *Job) String() string {
	return fmt.Sprintf("[%d] %s\t%s", j.ID, j.State, j.Command)
}

// Signal sends sig to every process in the job's process group.
func (j *Job) Signal(sig syscall.Signal) error {
	if j.Pgid == 0 {
		return fmt.Errorf("job %d has no process group", j.ID)
	}
	return syscall.Kill(-j.Pgid, sig)
}

// Table is the shell's live job table, indexed by job ID.
type Table struct {
	jobs    []*Job
	nextID  int
	current *Job
}

// NewTable returns an empty job table with IDs starting at 1.
func NewTable() *Table {
	return &Table{nextID: 1}
}

// Add assigns the next job ID to job and records it as current.
func (t *Table) Add(j *Job) *Job {
	j.ID = t.nextID
	t.nextID++
	t.jobs = append(t.jobs, j)
	t.current = j
	return j
}

// Remove deletes the job with the given ID, if present.
func (t *Table) Remove(id int) {
	for i, j := range t.jobs {
		if j.ID == id {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			if t.current == j {
				t.current = nil
			}
			return
		}
	}
}

// Get returns the job with the given ID, or nil.
func (t *Table) Get(id int) *Job {
	for _, j := range t.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// GetByPgid returns the job running in the given process group, or nil.
func (t *Table) GetByPgid(pgid int) *Job {
	for _, j := range t.jobs {
		if j.Pgid == pgid {
			return j
		}
	}
	return nil
}

// Current returns the most recently backgrounded job, or nil if none.
func (t *Table) Current() *Job {
	return t.current
}

// List returns all jobs in insertion order.
func (t *Table) List() []*Job {
	return t.jobs
}

// ReapDone removes every job marked Done from the table, returning the
// ones removed so the caller can print their final status line.
func (t *Table) ReapDone() []*Job {
	var done []*Job
	active := t.jobs[:0:0]
	for _, j := range t.jobs {
		if j.State == Done {
			done = append(done, j)
		} else {
			active = append(active, j)
		}
	}
	t.jobs = active
	return done
}

// ParseSpec resolves a "%n" / "%%" / "%+" / "+" / bare-ID job spec
// against the table, following the subset of the %-notation the
// executor's fg/bg builtins support; an empty spec also means the
// current job. "%-" (the previous job) is not recognised and reports
// "no such job".
func ParseSpec(t *Table, spec string) (*Job, error) {
	if spec == "" {
		if j := t.Current(); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("current: no such job")
	}
	if spec == "%%" || spec == "%+" || spec == "+" {
		if j := t.Current(); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("current: no such job")
	}
	trimmed := spec
	if len(trimmed) > 0 && trimmed[0] == '%' {
		trimmed = trimmed[1:]
	}
	id, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: no such job", spec)
	}
	if j := t.Get(id); j != nil {
		return j, nil
	}
	return nil, fmt.Errorf("%s: no such job", spec)
}
