package cmd

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/loaders"
)

// Notifier sends the end-of-run summary email. Delivery is best-effort:
// failures are logged by the caller and never fail the run.
type Notifier struct {
	config EmailConfig
	logger *slog.Logger

	// send is swapped in tests to avoid a live SMTP server
	send func(m *gomail.Message) error
}

func NewNotifier(config EmailConfig, smtpPassword string, logger *slog.Logger) *Notifier {
	dialer := gomail.NewDialer(config.SMTPServer, config.SMTPPort, config.User, smtpPassword)
	return &Notifier{
		config: config,
		logger: logger,
		send: func(m *gomail.Message) error {
			return dialer.DialAndSend(m)
		},
	}
}

// Send delivers the summary to the configured recipient.
func (n *Notifier) Send(summary *RunSummary) error {
	subject := fmt.Sprintf("ETL run %s: %d files, %d rows",
		summary.OverallStatus, len(summary.Outcomes), summary.TotalRows())

	m := gomail.NewMessage()
	m.SetHeader("From", n.config.User)
	m.SetHeader("To", n.config.Recipient)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", renderSummaryBody(summary))

	if err := n.send(m); err != nil {
		return fmt.Errorf("failed to send summary email: %w", err)
	}

	n.logger.Info(fmt.Sprintf("Summary email sent to %s", n.config.Recipient))
	return nil
}

func renderSummaryBody(summary *RunSummary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ETL run %s\n", summary.OverallStatus)
	fmt.Fprintf(&sb, "Started:  %s\n", summary.StartedAt.Format(time.RFC1123))
	fmt.Fprintf(&sb, "Finished: %s\n", summary.FinishedAt.Format(time.RFC1123))
	fmt.Fprintf(&sb, "Completed in %d seconds\n\n", int(summary.Duration().Seconds()))

	if len(summary.Outcomes) == 0 {
		sb.WriteString("No files matched the selector.\n")
		return sb.String()
	}

	for _, o := range summary.Outcomes {
		fmt.Fprintf(&sb, "%s: %s, %d rows loaded", o.File, o.Status, o.RowsLoaded)
		if o.RowErrors > 0 {
			fmt.Fprintf(&sb, ", %d malformed rows skipped", o.RowErrors)
		}
		if o.Status == loaders.StatusPartialFailure || o.Status == loaders.StatusFailure {
			if o.FailedFirst > 0 {
				fmt.Fprintf(&sb, ", records %d-%d not loaded", o.FailedFirst, o.FailedLast)
			}
			if o.Err != nil {
				fmt.Fprintf(&sb, "\n    %v", o.Err)
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
