//go:build !windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// defaultEndpointFor places the socket in XDG_RUNTIME_DIR when set, else in
// the temp dir.
func defaultEndpointFor(username string) string {
	dir := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR"))
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tabdeck-"+username+".sock")
}

// listen binds a unix socket readable only by the current user. A stale
// socket left by a crashed shell is removed first; a live one is an error.
func listen(endpoint string) (net.Listener, error) {
	if err := removeStaleSocket(endpoint); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(endpoint, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}
	return ln, nil
}

func removeStaleSocket(endpoint string) error {
	info, err := os.Lstat(endpoint)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", endpoint)
	}
	conn, dialErr := net.DialTimeout("unix", endpoint, 200*time.Millisecond)
	if dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("%s is in use by another server", endpoint)
	}
	slog.Debug("[DEBUG-IPC] removing stale socket", "endpoint", endpoint)
	return os.Remove(endpoint)
}

func dial(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", endpoint)
}

func cleanupEndpoint(endpoint string) {
	if err := os.Remove(endpoint); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("[DEBUG-IPC] failed to remove socket", "endpoint", endpoint, "error", err)
	}
}
