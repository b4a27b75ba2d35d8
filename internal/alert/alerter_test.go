package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:    AlertTypeBreakerOpen,
		Subject: "integration.request.aave-v3",
		Title:   "Publish circuit breaker opened",
		Message: "requests for aave-v3 fail fast",
		Fields: map[string]string{
			"from": "closed",
			"to":   "open",
		},
	}
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &received
}

func capturingServer(t *testing.T) (*httptest.Server, *[]byte) {
	t.Helper()
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		captured = body
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestMultiAlerter_Send_AllChannels(t *testing.T) {
	slackSrv, slackReceived := countingServer(t, http.StatusOK)
	webhookSrv, webhookReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewSlackAlerter(slackSrv.URL), NewWebhookAlerter(webhookSrv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), slackReceived.Load())
	assert.Equal(t, int32(1), webhookReceived.Load())
}

func TestMultiAlerter_CooldownPerSubject(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	assert.Equal(t, int32(1), received.Load(), "same type and subject is deduped")

	other := testAlert()
	other.Subject = "integration.request.lido"
	require.NoError(t, multi.Send(context.Background(), other))
	assert.Equal(t, int32(2), received.Load(), "another subject has its own cooldown")

	recovered := testAlert()
	recovered.Type = AlertTypeBreakerRecovered
	require.NoError(t, multi.Send(context.Background(), recovered))
	assert.Equal(t, int32(3), received.Load())
}

func TestMultiAlerter_CooldownExpiry(t *testing.T) {
	srv, received := countingServer(t, http.StatusOK)
	multi := NewMultiAlerter(time.Minute, testLogger(), NewWebhookAlerter(srv.URL))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	multi.nowFn = func() time.Time { return now }

	require.NoError(t, multi.Send(context.Background(), testAlert()))
	now = now.Add(59 * time.Second)
	require.NoError(t, multi.Send(context.Background(), testAlert()))
	now = now.Add(2 * time.Second)
	require.NoError(t, multi.Send(context.Background(), testAlert()))

	assert.Equal(t, int32(2), received.Load())
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	failSrv, _ := countingServer(t, http.StatusInternalServerError)
	goodSrv, goodReceived := countingServer(t, http.StatusOK)

	multi := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(failSrv.URL), NewWebhookAlerter(goodSrv.URL))

	err := multi.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(1), goodReceived.Load(), "a failing channel does not block the others")
}

func TestSlackAlerter_PayloadFormat(t *testing.T) {
	srv, captured := capturingServer(t)

	require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), testAlert()))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(*captured, &payload))
	text := payload["text"]
	assert.True(t, strings.HasPrefix(text, ":rotating_light:"))
	assert.Contains(t, text, string(AlertTypeBreakerOpen))
	assert.Contains(t, text, "integration.request.aave-v3")
	assert.Contains(t, text, "Publish circuit breaker opened")
	assert.Less(t, strings.Index(text, "*from*"), strings.Index(text, "*to*"), "fields are listed in key order")

	emojiTests := []struct {
		alertType AlertType
		emoji     string
	}{
		{AlertTypeBreakerOpen, ":rotating_light:"},
		{AlertTypeBreakerRecovered, ":white_check_mark:"},
		{AlertTypeJobsTimedOut, ":hourglass:"},
		{AlertType("OTHER"), ":warning:"},
	}
	for _, tc := range emojiTests {
		t.Run(fmt.Sprintf("emoji_%s", tc.alertType), func(t *testing.T) {
			srv, captured := capturingServer(t)
			a := Alert{Type: tc.alertType, Subject: "s", Title: "t", Message: "m"}
			require.NoError(t, NewSlackAlerter(srv.URL).Send(context.Background(), a))

			var p map[string]string
			require.NoError(t, json.Unmarshal(*captured, &p))
			assert.True(t, strings.HasPrefix(p["text"], tc.emoji), p["text"])
		})
	}
}

func TestWebhookAlerter_PayloadFormat(t *testing.T) {
	srv, captured := capturingServer(t)

	w := NewWebhookAlerter(srv.URL)
	sentAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	w.nowFn = func() time.Time { return sentAt }

	alert := Alert{
		Type:    AlertTypeJobsTimedOut,
		Subject: "reaper",
		Title:   "Jobs timed out",
		Message: "2 jobs passed their deadline",
		Fields:  map[string]string{"jobs": "2"},
	}
	require.NoError(t, w.Send(context.Background(), alert))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(*captured, &payload))
	assert.Equal(t, "JOBS_TIMED_OUT", payload["type"])
	assert.Equal(t, "reaper", payload["subject"])
	assert.Equal(t, "Jobs timed out", payload["title"])
	assert.Equal(t, "2 jobs passed their deadline", payload["message"])
	assert.Equal(t, map[string]any{"jobs": "2"}, payload["fields"])
	assert.Equal(t, "2026-03-04T05:06:07Z", payload["time"])
}

func TestWebhookAlerter_Unreachable(t *testing.T) {
	srv, _ := countingServer(t, http.StatusOK)
	url := srv.URL
	srv.Close()

	err := NewWebhookAlerter(url).Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send webhook alert")
}
