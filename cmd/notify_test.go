package cmd

import (
	"errors"
	"strings"
	"testing"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/loaders"
)

func frozenSummary(outcomes ...loaders.Outcome) *RunSummary {
	s := newRunSummary()
	for _, o := range outcomes {
		s.Add(o)
	}
	s.Freeze()
	return s
}

func TestOverallStatusRollup(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []loaders.Outcome
		want     OverallStatus
	}{
		{"empty run is a success", nil, StatusAllSucceeded},
		{"all succeeded", []loaders.Outcome{
			{File: "a.csv", Status: loaders.StatusSuccess},
			{File: "b.csv", Status: loaders.StatusSuccess},
		}, StatusAllSucceeded},
		{"skipped file degrades to partial", []loaders.Outcome{
			{File: "a.csv", Status: loaders.StatusSuccess},
			{File: "b.csv", Status: loaders.StatusSkipped},
		}, StatusPartialFailure},
		{"partial file degrades to partial", []loaders.Outcome{
			{File: "a.csv", Status: loaders.StatusPartialFailure},
		}, StatusPartialFailure},
		{"any failure wins over partial", []loaders.Outcome{
			{File: "a.csv", Status: loaders.StatusPartialFailure},
			{File: "b.csv", Status: loaders.StatusFailure},
		}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := frozenSummary(tt.outcomes...)
			if s.OverallStatus != string(tt.want) {
				t.Errorf("OverallStatus = %s, want %s", s.OverallStatus, tt.want)
			}
		})
	}
}

func TestSummaryAddAfterFreezePanics(t *testing.T) {
	s := frozenSummary()
	defer func() {
		if recover() == nil {
			t.Error("expected panic adding to a frozen summary")
		}
	}()
	s.Add(loaders.Outcome{File: "late.csv", Status: loaders.StatusSuccess})
}

func TestRenderSummaryBody(t *testing.T) {
	s := frozenSummary(
		loaders.Outcome{
			File:       "HPI_AT_metro.csv",
			Status:     loaders.StatusSuccess,
			RowsLoaded: 120,
			Duration:   2 * time.Second,
		},
		loaders.Outcome{
			File:        "HPI_AT_state.csv",
			Status:      loaders.StatusPartialFailure,
			RowsLoaded:  80,
			RowErrors:   3,
			FailedFirst: 81,
			FailedLast:  95,
			Err:         errors.New("batch insert failed"),
		},
	)

	body := renderSummaryBody(s)

	for _, want := range []string{
		"ETL run PartialFailure",
		"HPI_AT_metro.csv: Success, 120 rows loaded",
		"HPI_AT_state.csv: PartialFailure, 80 rows loaded, 3 malformed rows skipped, records 81-95 not loaded",
		"batch insert failed",
		"Completed in",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderSummaryBodyEmptyRun(t *testing.T) {
	body := renderSummaryBody(frozenSummary())
	if !strings.Contains(body, "No files matched the selector.") {
		t.Errorf("body missing empty-run line:\n%s", body)
	}
}

func TestNewNotifierWiresDialer(t *testing.T) {
	n := NewNotifier(EmailConfig{
		SMTPServer: "smtp.example.com",
		SMTPPort:   25,
		User:       "etl@example.com",
		Recipient:  "ops@example.com",
	}, "secret", discardLogger())

	if n.send == nil {
		t.Fatal("constructor left send unset")
	}
}

func TestNotifierSend(t *testing.T) {
	var sent *gomail.Message
	n := &Notifier{
		config: EmailConfig{User: "etl@example.com", Recipient: "ops@example.com"},
		logger: discardLogger(),
		send: func(m *gomail.Message) error {
			sent = m
			return nil
		},
	}

	s := frozenSummary(loaders.Outcome{File: "a.csv", Status: loaders.StatusSuccess, RowsLoaded: 10})
	if err := n.Send(s); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent == nil {
		t.Fatal("send function was not called")
	}
	if got := sent.GetHeader("To"); len(got) != 1 || got[0] != "ops@example.com" {
		t.Errorf("To header = %v, want ops@example.com", got)
	}
	if got := sent.GetHeader("Subject"); len(got) != 1 || !strings.Contains(got[0], "Success") {
		t.Errorf("Subject header = %v, want run status", got)
	}
}

func TestNotifierSendFailureWrapped(t *testing.T) {
	n := &Notifier{
		config: EmailConfig{Recipient: "ops@example.com"},
		logger: discardLogger(),
		send: func(*gomail.Message) error {
			return errors.New("dial tcp: connection refused")
		},
	}

	err := n.Send(frozenSummary())
	if err == nil || !strings.Contains(err.Error(), "failed to send summary email") {
		t.Errorf("Send() error = %v, want wrapped send failure", err)
	}
}
