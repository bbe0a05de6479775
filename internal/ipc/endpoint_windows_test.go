//go:build windows

package ipc

import (
	"fmt"
	"testing"
	"time"
)

func testEndpoint(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf(`\\.\pipe\tabdeck-test-%d`, time.Now().UnixNano())
}

func TestDefaultEndpointUsesPipePrefix(t *testing.T) {
	t.Setenv(EndpointEnv, "")
	t.Setenv("USERNAME", "CORP\\dev")
	if got, want := DefaultEndpoint(), `\\.\pipe\tabdeck-CORP_dev`; got != want {
		t.Fatalf("DefaultEndpoint() = %q, want %q", got, want)
	}
}
