package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/casualjim/delver/events"
	"github.com/casualjim/delver/pkg/uuidx"
	"github.com/google/uuid"
)

const (
	// DefaultMaxResults is the result budget when a job does not set one.
	DefaultMaxResults = 5
	// DefaultMaxAttempts bounds how often a failing task is retried.
	DefaultMaxAttempts = 3
)

// JobCommand describes one research job submission. The zero value is not
// usable, construct it with NewJobCommand.
type JobCommand struct {
	id          uuid.UUID
	Query       string
	MaxResults  int
	MaxAttempts int
	Hook        events.Hook
}

// NewJobCommand validates and builds a job submission. The hook receives the
// job's lifecycle events.
func NewJobCommand(query string, hook events.Hook) (JobCommand, error) {
	var err error
	if strings.TrimSpace(query) == "" {
		err = errors.Join(err, errors.New("query is required"))
	}
	if hook == nil {
		err = errors.Join(err, errors.New("hook is required"))
	}
	if err != nil {
		return JobCommand{}, err
	}

	return JobCommand{
		id:          uuidx.New(),
		Query:       query,
		MaxResults:  DefaultMaxResults,
		MaxAttempts: DefaultMaxAttempts,
		Hook:        hook,
	}, nil
}

func (c *JobCommand) Validate() error {
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if c.Hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	return nil
}

// ID returns the job ID assigned at submission.
func (c *JobCommand) ID() uuid.UUID {
	return c.id
}

func (c JobCommand) WithID(id uuid.UUID) JobCommand {
	c.id = id
	return c
}

func (c JobCommand) WithMaxResults(maxResults int) JobCommand {
	c.MaxResults = maxResults
	return c
}

func (c JobCommand) WithMaxAttempts(maxAttempts int) JobCommand {
	c.MaxAttempts = maxAttempts
	return c
}
