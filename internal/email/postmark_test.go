package email

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/hostvault/internal/backup"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// postmarkStub records every message posted to it.
func postmarkStub(t *testing.T, status int) (*httptest.Server, *[]postmarkEmail, *string) {
	t.Helper()
	var received []postmarkEmail
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get("X-Postmark-Server-Token")
		var msg postmarkEmail
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode request: %v", err)
		}
		received = append(received, msg)
		w.WriteHeader(status)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &received, &token
}

func TestSend(t *testing.T) {
	srv, received, token := postmarkStub(t, http.StatusOK)
	client := NewClient("test-token", "backups@example.com", WithAPIURL(srv.URL), WithHTTPClient(srv.Client()))

	if err := client.Send(context.Background(), "ops@example.com", "hello", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if *token != "test-token" {
		t.Errorf("server token = %q", *token)
	}
	if len(*received) != 1 || (*received)[0].From != "backups@example.com" || (*received)[0].To != "ops@example.com" {
		t.Errorf("received = %+v", *received)
	}
}

func TestSendAPIError(t *testing.T) {
	srv, _, _ := postmarkStub(t, http.StatusUnprocessableEntity)
	client := NewClient("test-token", "backups@example.com", WithAPIURL(srv.URL))

	if err := client.Send(context.Background(), "ops@example.com", "hello", "body"); err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "backups@example.com")
	if err := client.Send(context.Background(), "ops@example.com", "hello", "body"); err == nil {
		t.Fatal("expected error for unconfigured client")
	}
}

func TestAlerterSendsOnFailure(t *testing.T) {
	srv, received, _ := postmarkStub(t, http.StatusOK)
	alerter := NewAlerter(NewClient("tok", "backups@example.com", WithAPIURL(srv.URL)), "ops@example.com", "https://vault.lan", quietLogger())

	var cb backup.EventCallback = alerter.HandleEvent
	cb(backup.Event{Type: backup.EventRunStarted, JobID: 3, RunID: 8})
	cb(backup.Event{Type: backup.EventRunCompleted, JobID: 3, RunID: 8})
	cb(backup.Event{Type: backup.EventRunFailed, JobID: 3, RunID: 9, HostID: 1, Error: "rsync: connection unexpectedly closed"})
	cb(backup.Event{Type: backup.EventRestoreFailed, JobID: 3, RunID: 9, HostID: 1, Error: "Restore timed out after 1 hour"})

	if len(*received) != 2 {
		t.Fatalf("sent %d alerts, want 2", len(*received))
	}
	first := (*received)[0]
	if first.Subject != "hostvault: backup of job 3 failed" {
		t.Errorf("subject = %q", first.Subject)
	}
	if !strings.Contains(first.TextBody, "connection unexpectedly closed") || !strings.Contains(first.TextBody, "https://vault.lan/api/runs/9") {
		t.Errorf("body = %q", first.TextBody)
	}
	if (*received)[1].Subject != "hostvault: restore of run 9 failed" {
		t.Errorf("subject = %q", (*received)[1].Subject)
	}
}
