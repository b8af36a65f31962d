package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/executor/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func job(logic string) executor.Job {
	return executor.Job{
		Request: booking.Request{
			ID:           9,
			DesiredDate:  time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			EarliestTime: booking.NewClock(8, 0, 0),
			LatestTime:   booking.NewClock(10, 30, 0),
			Players:      2,
		},
		Course: catalog.Course{ID: 3, Name: "Frear Park", ProviderURL: "https://example.test/frear", LogicType: logic},
		Login:  "demo@example.com",
		Secret: "securepassword",
	}
}

func TestRouter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	foreup := mocks.NewMockExecutor(ctrl)
	fallback := mocks.NewMockExecutor(ctrl)
	r := &executor.Router{Default: fallback, ByLogic: map[string]executor.Executor{catalog.LogicForeUp: foreup}}
	ctx := context.Background()

	foreup.EXPECT().Attempt(ctx, job(catalog.LogicForeUp)).Return(executor.Result{Succeeded: true, Log: "ok"}, nil).Times(1)
	fallback.EXPECT().Attempt(ctx, job(catalog.LogicCPS)).Return(executor.Result{Log: "none"}, nil).Times(1)

	res, err := r.Attempt(ctx, job(catalog.LogicForeUp))
	require.NoError(t, err)
	assert.True(t, res.Succeeded)

	res, err = r.Attempt(ctx, job(catalog.LogicCPS))
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
}

func TestRouter_NoDefault(t *testing.T) {
	r := &executor.Router{}
	_, err := r.Attempt(context.Background(), job(catalog.LogicCPS))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"cps"`)
}

func TestHTTPRunner(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"succeeded":true,"log":"booked slot 08:16"}`))
	}))
	defer srv.Close()

	res, err := executor.NewHTTPRunner(srv.URL).Attempt(context.Background(), job(catalog.LogicFrear))
	require.NoError(t, err)
	assert.Equal(t, executor.Result{Succeeded: true, Log: "booked slot 08:16"}, res)

	assert.Equal(t, float64(9), got["request_id"])
	assert.Equal(t, "2025-08-01", got["desired_date"])
	assert.Equal(t, "08:00:00", got["earliest_time"])
	assert.Equal(t, "demo@example.com", got["login"])
	assert.Equal(t, "frear", got["course"].(map[string]any)["logic_type"])
}

func TestHTTPRunner_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "browser crashed", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := executor.NewHTTPRunner(srv.URL).Attempt(context.Background(), job(catalog.LogicCPS))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "browser crashed")
}

func TestHTTPRunner_Non2xxLongBodyKeepsRunes(t *testing.T) {
	body := strings.Repeat("é", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := executor.NewHTTPRunner(srv.URL).Attempt(context.Background(), job(catalog.LogicCPS))
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg), "error text is valid UTF-8")
	assert.Contains(t, msg, strings.Repeat("é", 200)+"...")
	assert.NotContains(t, msg, strings.Repeat("é", 201))
}

func TestHTTPRunner_Deadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.NewHTTPRunner(srv.URL).Attempt(ctx, job(catalog.LogicCPS))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
