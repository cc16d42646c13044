package cmd

import (
	"fmt"
	"time"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd/loaders"
)

// OverallStatus rolls the per-file outcomes up to one run-level verdict.
type OverallStatus string

const (
	StatusAllSucceeded   OverallStatus = "Success"
	StatusPartialFailure OverallStatus = "PartialFailure"
	StatusFailed         OverallStatus = "Failure"
)

// RunSummary is the frozen end-of-run record. It is append-only while the
// run progresses and frozen by Freeze before it crosses the notification
// boundary.
type RunSummary struct {
	StartedAt     time.Time
	FinishedAt    time.Time
	Outcomes      []loaders.Outcome
	OverallStatus string

	frozen bool
}

func newRunSummary() *RunSummary {
	return &RunSummary{StartedAt: time.Now()}
}

// Add appends one file outcome. Panics if the summary was already frozen;
// that would mean an outcome arrived after Summarizing, which is a bug.
func (s *RunSummary) Add(outcome loaders.Outcome) {
	if s.frozen {
		panic("outcome added to frozen run summary")
	}
	s.Outcomes = append(s.Outcomes, outcome)
}

// Freeze stamps the finish time and computes the overall status. A run
// with no matched files counts as a success: an empty drop area is a
// normal state between feed deliveries.
func (s *RunSummary) Freeze() {
	s.FinishedAt = time.Now()
	s.OverallStatus = string(s.overall())
	s.frozen = true
}

func (s *RunSummary) overall() OverallStatus {
	anyFailed := false
	anyPartial := false
	for _, o := range s.Outcomes {
		switch o.Status {
		case loaders.StatusFailure:
			anyFailed = true
		case loaders.StatusPartialFailure, loaders.StatusSkipped:
			anyPartial = true
		}
	}
	switch {
	case anyFailed:
		return StatusFailed
	case anyPartial:
		return StatusPartialFailure
	default:
		return StatusAllSucceeded
	}
}

// Duration is the wall-clock span of the run.
func (s *RunSummary) Duration() time.Duration {
	end := s.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// TotalRows sums rows loaded across all files.
func (s *RunSummary) TotalRows() int64 {
	var total int64
	for _, o := range s.Outcomes {
		total += o.RowsLoaded
	}
	return total
}

// printSummary renders the styled end-of-run table.
func printSummary(summary *RunSummary) {
	logger.Info("")
	logger.Info(titleStyle.Render("Run summary"))

	if len(summary.Outcomes) == 0 {
		logger.Info("  No files matched the selector")
	}

	for _, o := range summary.Outcomes {
		line := fmt.Sprintf("  %-40s %-15s %8d rows  %s",
			o.File, o.Status, o.RowsLoaded, o.Duration.Round(time.Millisecond))
		switch o.Status {
		case loaders.StatusSuccess:
			logger.Info(successStyle.Render(line))
		case loaders.StatusPartialFailure:
			logger.Info(warnStyle.Render(line))
			if o.RowErrors > 0 {
				logger.Info(warnStyle.Render(fmt.Sprintf("      %d malformed rows skipped", o.RowErrors)))
			}
		default:
			logger.Info(failStyle.Render(line))
		}
		if o.Err != nil {
			logger.Info(failStyle.Render(fmt.Sprintf("      %v", o.Err)))
		}
		if o.FailedFirst > 0 {
			logger.Info(failStyle.Render(fmt.Sprintf("      records %d-%d not loaded", o.FailedFirst, o.FailedLast)))
		}
	}

	logger.Info("")
	logger.Info(fmt.Sprintf("  Overall: %s, %d files, %d rows, completed in %s",
		summary.OverallStatus, len(summary.Outcomes), summary.TotalRows(),
		summary.Duration().Round(time.Second)))
}
