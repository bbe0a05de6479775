package main

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tabdeck/internal/config"
	"tabdeck/internal/ipc"
	"tabdeck/internal/singleinstance"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
)

//go:embed all:frontend/dist
var assets embed.FS

const secondInstanceTimeout = 40 * time.Second

func main() {
	launchURL := launchURLFromArgs(os.Args[1:])

	// The lock lives next to the config so every launch by this user agrees
	// on it before any browser or WebView starts.
	lock, err := singleinstance.TryLock(singleinstance.DefaultLockPath(filepath.Dir(config.DefaultPath())))
	if errors.Is(err, singleinstance.ErrAlreadyRunning) {
		slog.Info("[DEBUG-SINGLE] another instance is already running, forwarding launch")
		if sendErr := forwardToRunningInstance(launchURL); sendErr != nil {
			slog.Warn("[DEBUG-SINGLE] failed to signal existing instance", "error", sendErr)
		}
		return
	}
	if err != nil {
		slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "error", err)
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
		}
	}()

	app := NewApp()
	app.initialURL = launchURL

	err = wails.Run(&options.App{
		Title:     "tabdeck",
		Width:     1280,
		Height:    820,
		MinWidth:  480,
		MinHeight: 320,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 32, G: 33, B: 36, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []any{
			app,
		},
	})
	if err != nil {
		slog.Error("[DEBUG-SINGLE] wails run failed", "error", err)
	}
}

// launchURLFromArgs returns the first non-flag argument.
func launchURLFromArgs(args []string) string {
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" && !strings.HasPrefix(arg, "-") {
			return arg
		}
	}
	return ""
}

// forwardToRunningInstance opens the launch URL in the running shell, or
// just raises its window.
func forwardToRunningInstance(launchURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), secondInstanceTimeout)
	defer cancel()

	req := ipc.Request{Command: ipc.CmdShowWindow}
	if launchURL != "" {
		req = ipc.Request{Command: ipc.CmdOpen, URL: launchURL}
	}
	resp, err := ipc.Send(ctx, "", req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}
