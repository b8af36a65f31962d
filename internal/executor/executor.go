// Package executor is the boundary to whatever actually secures a tee time.
// The dispatcher hands it a claimed request plus the decrypted login and gets
// back a yes/no and a human-readable log.
package executor

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks . Executor

import (
	"context"
	"fmt"

	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
)

type Job struct {
	Request booking.Request
	Course  catalog.Course
	Login   string
	Secret  string
}

type Result struct {
	Succeeded bool
	Log       string
}

// Executor makes one booking attempt. It must honour ctx cancellation; an
// error means the attempt itself broke, not that no tee time was found.
type Executor interface {
	Attempt(ctx context.Context, job Job) (Result, error)
}

// Router picks an Executor by the course's logic type.
type Router struct {
	Default Executor
	ByLogic map[string]Executor
}

func (r *Router) Attempt(ctx context.Context, job Job) (Result, error) {
	if ex, ok := r.ByLogic[job.Course.LogicType]; ok {
		return ex.Attempt(ctx, job)
	}
	if r.Default == nil {
		return Result{}, fmt.Errorf("no executor for logic type %q", job.Course.LogicType)
	}
	return r.Default.Attempt(ctx, job)
}
