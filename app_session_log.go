package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tabdeck/internal/sessionlog"
	"tabdeck/internal/workerutil"
	"tabdeck/internal/wsserver"
)

const (
	sessionLogDir      = "session-logs"
	sessionLogMaxFiles = 20
	// sessionLogLevelEnv set to "debug" lowers the stderr threshold.
	sessionLogLevelEnv = "TABDECK_LOG_LEVEL"
)

// initSessionLog installs the process logger: text records to stderr, with
// Warn and above also appended to a per-run JSONL file and forwarded to the
// frontend. File failures are logged and otherwise ignored.
func (a *App) initSessionLog() {
	a.logs = sessionlog.NewForwarder(sessionlog.DefaultHistory, sessionlog.DefaultRate, sessionlog.DefaultBurst, a.publishLogEntry)

	level := slog.LevelInfo
	if strings.EqualFold(strings.TrimSpace(os.Getenv(sessionLogLevelEnv)), "debug") {
		level = slog.LevelDebug
	}
	// The base must not be slog.Default's handler: it writes through the log
	// package, which SetDefault redirects back here.
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	a.prevLogger = slog.Default()
	slog.SetDefault(slog.New(sessionlog.NewTeeHandler(base, slog.LevelWarn, a.recordLogEntry)))

	a.openSessionLogFile()
}

func (a *App) openSessionLogFile() {
	if strings.TrimSpace(a.configPath) == "" {
		return
	}
	dir := filepath.Join(filepath.Dir(a.configPath), sessionLogDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		slog.Warn("[session-log] failed to create log directory", "dir", dir, "error", err)
		return
	}

	// PID avoids collisions on sub-second restarts.
	filename := fmt.Sprintf("session-%s-%d.jsonl", time.Now().Format("20060102-150405"), os.Getpid())
	fullPath := filepath.Join(dir, filename)
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Warn("[session-log] failed to open log file", "path", fullPath, "error", err)
		return
	}

	a.sessionLogMu.Lock()
	a.sessionLogFile = f
	a.sessionLogPath = fullPath
	a.sessionLogMu.Unlock()

	cleanupOldSessionLogs(dir, filename, sessionLogMaxFiles)
	slog.Debug("[session-log] initialized", "path", fullPath)
}

// cleanupOldSessionLogs removes the oldest session logs beyond maxFiles,
// never the current one. Names sort by timestamp.
func cleanupOldSessionLogs(dir, current string, maxFiles int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("[session-log] failed to read log directory for cleanup", "dir", dir, "error", err)
		return
	}
	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "session-") && strings.HasSuffix(name, ".jsonl") {
			logFiles = append(logFiles, name)
		}
	}
	sort.Strings(logFiles)

	excess := len(logFiles) - maxFiles
	for _, name := range logFiles {
		if excess <= 0 {
			break
		}
		if name == current {
			continue
		}
		target := filepath.Join(dir, name)
		if err := os.Remove(target); err != nil {
			slog.Warn("[session-log] failed to delete old log file", "path", target, "error", err)
			continue
		}
		excess--
	}
}

// recordLogEntry is the TeeHandler callback. It runs inside a log call, so
// it must not log through slog.
func (a *App) recordLogEntry(entry sessionlog.Entry) {
	a.sessionLogMu.Lock()
	if a.sessionLogFile != nil {
		if line, err := json.Marshal(entry); err == nil {
			if _, err := a.sessionLogFile.Write(append(line, '\n')); err != nil {
				fmt.Fprintf(os.Stderr, "[session-log] write failed, disabling file: %v\n", err)
				_ = a.sessionLogFile.Close()
				a.sessionLogFile = nil
			}
		}
	}
	a.sessionLogMu.Unlock()

	if a.logs != nil {
		a.logs.Offer(entry)
	}
}

func (a *App) publishLogEntry(entry sessionlog.Entry) {
	if a.wsHub != nil {
		a.wsHub.Publish(wsserver.TopicLog, entry)
	}
	if ctx := a.runtimeContext(); ctx != nil {
		runtimeEventsEmitFn(ctx, "app:session-log", entry)
	}
}

func (a *App) startLogForwarder(ctx context.Context) {
	if a.logs == nil {
		return
	}
	workerutil.RunWithPanicRecovery(ctx, "session-log-forwarder", &a.bgWG, a.logs.Run, a.workerRecoveryOptions())
}

// GetRecentLogs returns the latest Warn+ records, oldest first.
func (a *App) GetRecentLogs() []sessionlog.Entry {
	if a.logs == nil {
		return []sessionlog.Entry{}
	}
	return a.logs.Recent()
}

// GetSessionLogFilePath returns the current run's log file, or "".
func (a *App) GetSessionLogFilePath() string {
	a.sessionLogMu.Lock()
	defer a.sessionLogMu.Unlock()
	return a.sessionLogPath
}

func (a *App) closeSessionLog() {
	if a.prevLogger != nil {
		slog.SetDefault(a.prevLogger)
		a.prevLogger = nil
	}
	a.sessionLogMu.Lock()
	defer a.sessionLogMu.Unlock()
	if a.sessionLogFile == nil {
		return
	}
	if err := a.sessionLogFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "[session-log] close failed: %v\n", err)
	}
	a.sessionLogFile = nil
}
