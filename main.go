package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/RommelEstardo/ETL-Data-Pipeline-Framework/cmd"
	"github.com/charmbracelet/lipgloss"
)

var (
	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF0000")).
		Bold(true)
)

// stopFilePath is an alternative to CTRL-C for terminals that swallow
// signals: touching the file cancels the run.
func stopFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".etl-pipeline", "stop")
}

func watchStopFile(cancel context.CancelFunc, path string) {
	for {
		if _, err := os.Stat(path); err == nil {
			os.Remove(path)
			cancel()
			return
		}
		time.Sleep(time.Second)
	}
}

func main() {
	// Signal handling is set up before cobra runs so no library can
	// register its own handlers first
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopFile := stopFilePath()
	if stopFile != "" {
		go watchStopFile(cancel, stopFile)
	}

	cmd.SetSignalContext(sigCtx, stopFile)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("❌ Error: "+err.Error()))
		os.Exit(1)
	}
}
