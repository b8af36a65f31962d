package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/example/teetime-scheduler/internal/booking"
)

// HTTPRunner forwards attempts to an external automation engine that drives
// the course's booking site. The request deadline comes from ctx.
type HTTPRunner struct {
	URL    string
	Client *http.Client
}

func NewHTTPRunner(url string) *HTTPRunner {
	return &HTTPRunner{URL: url, Client: &http.Client{}}
}

type attemptCourse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ProviderURL string `json:"provider_url"`
	LogicType   string `json:"logic_type"`
}

type attemptRequest struct {
	RequestID    int64         `json:"request_id"`
	Course       attemptCourse `json:"course"`
	DesiredDate  string        `json:"desired_date"`
	EarliestTime string        `json:"earliest_time"`
	LatestTime   string        `json:"latest_time"`
	Players      int           `json:"players"`
	Login        string        `json:"login"`
	Secret       string        `json:"secret"`
}

type attemptResponse struct {
	Succeeded bool   `json:"succeeded"`
	Log       string `json:"log"`
}

func (h *HTTPRunner) Attempt(ctx context.Context, job Job) (Result, error) {
	r := job.Request
	payload := attemptRequest{
		RequestID: r.ID,
		Course: attemptCourse{
			ID:          job.Course.ID,
			Name:        job.Course.Name,
			ProviderURL: job.Course.ProviderURL,
			LogicType:   job.Course.LogicType,
		},
		DesiredDate:  r.DesiredDate.Format(booking.DateLayout),
		EarliestTime: r.EarliestTime.String(),
		LatestTime:   r.LatestTime.String(),
		Players:      r.Players,
		Login:        job.Login,
		Secret:       job.Secret,
	}

	status, body, err := h.do(ctx, payload)
	if err != nil {
		return Result{}, err
	}
	if status < 200 || status >= 300 {
		return Result{}, fmt.Errorf("executor returned %d: %s", status, snippet(body))
	}

	var out attemptResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("decode executor response: %w", err)
	}
	return Result{Succeeded: out.Succeeded, Log: out.Log}, nil
}

func (h *HTTPRunner) do(ctx context.Context, payload any) (int, []byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(b))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "teesched")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

const snippetRunes = 200

// snippet trims a response body for an error message, cutting on a rune
// boundary since the text ends up in result_log.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	return string([]rune(s)[:snippetRunes]) + "..."
}
