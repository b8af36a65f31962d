package booking

import "time"

// Summary is the dashboard projection over whatever slice of requests the
// caller is allowed to see.
type Summary struct {
	Pending       int        `json:"pending"`
	Running       int        `json:"running"`
	Success       int        `json:"success"`
	Failed        int        `json:"failed"`
	NextExecution *time.Time `json:"next_execution"`
	NextRequestID *int64     `json:"next_request_id"`
}

// Summarize counts by status and picks the PENDING request that fires first,
// breaking execution_time ties on the lower id.
func Summarize(reqs []Request) Summary {
	var (
		s    Summary
		next *Request
	)
	for i := range reqs {
		r := &reqs[i]
		switch r.Status {
		case StatusPending:
			s.Pending++
			if next == nil || r.firesBefore(next) {
				next = r
			}
		case StatusRunning:
			s.Running++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		}
	}
	if next != nil {
		at, id := next.ExecutionTime, next.ID
		s.NextExecution = &at
		s.NextRequestID = &id
	}
	return s
}

func (r *Request) firesBefore(o *Request) bool {
	if !r.ExecutionTime.Equal(o.ExecutionTime) {
		return r.ExecutionTime.Before(o.ExecutionTime)
	}
	return r.ID < o.ID
}
