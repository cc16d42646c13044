package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestPIDFile(t *testing.T) {
	tempDir := t.TempDir()

	// Override home directory
	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	t.Run("WritePIDFile", func(t *testing.T) {
		if err := WritePIDFile(); err != nil {
			t.Fatal(err)
		}

		pidPath := GetPIDFilePath()
		if _, err := os.Stat(pidPath); os.IsNotExist(err) {
			t.Fatal("PID file should exist")
		}

		data, err := os.ReadFile(pidPath)
		if err != nil {
			t.Fatal(err)
		}
		pid, err := strconv.Atoi(string(data))
		if err != nil {
			t.Fatal(err)
		}
		if pid != os.Getpid() {
			t.Fatalf("expected PID %d, got %d", os.Getpid(), pid)
		}
	})

	t.Run("ReadPIDFile", func(t *testing.T) {
		pid, err := ReadPIDFile()
		if err != nil {
			t.Fatal(err)
		}
		if pid != os.Getpid() {
			t.Fatalf("expected PID %d, got %d", os.Getpid(), pid)
		}
	})

	t.Run("RemovePIDFile", func(t *testing.T) {
		if err := RemovePIDFile(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(GetPIDFilePath()); !os.IsNotExist(err) {
			t.Fatal("PID file should be removed")
		}
	})

	t.Run("IsProcessRunning", func(t *testing.T) {
		if !IsProcessRunning(os.Getpid()) {
			t.Fatal("current process should be running")
		}
		if IsProcessRunning(-1) {
			t.Fatal("invalid PID should not be running")
		}
	})
}

func TestTaskInfo(t *testing.T) {
	tempDir := t.TempDir()

	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	t.Run("WriteTaskInfo", func(t *testing.T) {
		info := &TaskInfo{
			PID:            12345,
			StartTime:      time.Now(),
			Table:          "hpi_data",
			CurrentState:   "Loading",
			CurrentFile:    "HPI_AT_state.txt",
			TotalFiles:     3,
			CompletedFiles: 1,
		}

		if err := WriteTaskInfo(info); err != nil {
			t.Fatal(err)
		}

		taskPath := GetTaskFilePath()
		data, err := os.ReadFile(taskPath)
		if err != nil {
			t.Fatal(err)
		}

		var saved TaskInfo
		if err := json.Unmarshal(data, &saved); err != nil {
			t.Fatal(err)
		}

		if saved.PID != info.PID {
			t.Fatalf("expected PID %d, got %d", info.PID, saved.PID)
		}
		if saved.Table != info.Table {
			t.Fatalf("expected table %s, got %s", info.Table, saved.Table)
		}
		if saved.CurrentState != info.CurrentState {
			t.Fatalf("expected state %s, got %s", info.CurrentState, saved.CurrentState)
		}
		if saved.CurrentFile != info.CurrentFile {
			t.Fatalf("expected file %s, got %s", info.CurrentFile, saved.CurrentFile)
		}
		if saved.LastUpdate.IsZero() {
			t.Fatal("LastUpdate should be set")
		}
	})

	t.Run("ReadTaskInfo", func(t *testing.T) {
		info, err := ReadTaskInfo()
		if err != nil {
			t.Fatal(err)
		}
		if info.Table != "hpi_data" {
			t.Fatalf("unexpected table: %s", info.Table)
		}
	})

	t.Run("RemoveTaskFile", func(t *testing.T) {
		if err := RemoveTaskFile(); err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(GetTaskFilePath()); !os.IsNotExist(err) {
			t.Fatal("task file should be removed")
		}
	})
}

func TestPathFunctions(t *testing.T) {
	tempDir := t.TempDir()

	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	t.Run("GetPIDFilePath", func(t *testing.T) {
		expected := filepath.Join(tempDir, ".etl-pipeline", "etl.pid")
		if actual := GetPIDFilePath(); actual != expected {
			t.Fatalf("expected path %s, got %s", expected, actual)
		}
	})

	t.Run("GetTaskFilePath", func(t *testing.T) {
		expected := filepath.Join(tempDir, ".etl-pipeline", "current_task.json")
		if actual := GetTaskFilePath(); actual != expected {
			t.Fatalf("expected path %s, got %s", expected, actual)
		}
	})
}
