package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"tabdeck/internal/ipc"
	"tabdeck/internal/tabs"
)

// NOTE: Tests override sendFn; do not use t.Parallel().

func stubSend(t *testing.T, fn func(req ipc.Request) (ipc.Response, error)) *[]ipc.Request {
	t.Helper()
	orig := sendFn
	t.Cleanup(func() { sendFn = orig })
	var seen []ipc.Request
	sendFn = func(_ context.Context, _ string, req ipc.Request) (ipc.Response, error) {
		seen = append(seen, req)
		return fn(req)
	}
	return &seen
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCommandsBuildRequests(t *testing.T) {
	tests := []struct {
		args []string
		want ipc.Request
	}{
		{args: []string{"open"}, want: ipc.Request{Command: ipc.CmdOpen}},
		{args: []string{"open", "-b", "https://a.test/"}, want: ipc.Request{Command: ipc.CmdOpen, URL: "https://a.test/", Background: true}},
		{args: []string{"close", "t1"}, want: ipc.Request{Command: ipc.CmdClose, TabID: "t1"}},
		{args: []string{"activate", "t2"}, want: ipc.Request{Command: ipc.CmdActivate, TabID: "t2"}},
		{args: []string{"pin", "t3"}, want: ipc.Request{Command: ipc.CmdPin, TabID: "t3"}},
		{args: []string{"next"}, want: ipc.Request{Command: ipc.CmdNext}},
		{args: []string{"prev"}, want: ipc.Request{Command: ipc.CmdPrevious}},
		{args: []string{"reopen"}, want: ipc.Request{Command: ipc.CmdReopen}},
		{args: []string{"show"}, want: ipc.Request{Command: ipc.CmdShowWindow}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			seen := stubSend(t, func(ipc.Request) (ipc.Response, error) { return ipc.Response{OK: true}, nil })
			if code, _, stderr := runCLI(tt.args...); code != exitOK {
				t.Fatalf("exit code = %d, stderr = %q", code, stderr)
			}
			if len(*seen) != 1 || (*seen)[0] != tt.want {
				t.Fatalf("requests = %+v, want %+v", *seen, tt.want)
			}
		})
	}
}

func TestArgumentValidation(t *testing.T) {
	seen := stubSend(t, func(ipc.Request) (ipc.Response, error) { return ipc.Response{OK: true}, nil })
	for _, args := range [][]string{{"close"}, {"next", "extra"}, {"open", "a", "b"}, {"bogus"}} {
		if code, _, _ := runCLI(args...); code != exitFailed {
			t.Errorf("%v exit code = %d, want %d", args, code, exitFailed)
		}
	}
	if len(*seen) != 0 {
		t.Fatalf("invalid invocations sent %d requests", len(*seen))
	}
}

func TestListPrintsTable(t *testing.T) {
	stubSend(t, func(ipc.Request) (ipc.Response, error) {
		return ipc.Response{OK: true, Tabs: []tabs.TabInfo{
			{ID: "t1", State: tabs.StateReady, Active: true, Title: "Home", URL: "about:newtab"},
			{ID: "t2", State: tabs.StateReady, Pinned: true, Title: "Docs", URL: "https://docs.test/"},
		}}, nil
	})
	code, stdout, stderr := runCLI("list")
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr = %q", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "ID") {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(lines[1], "*") || !strings.Contains(lines[2], "P") || !strings.Contains(lines[2], "https://docs.test/") {
		t.Fatalf("rows = %q", lines[1:])
	}
}

func TestJSONOutput(t *testing.T) {
	stubSend(t, func(ipc.Request) (ipc.Response, error) {
		return ipc.Response{OK: true, Tab: &tabs.TabInfo{ID: "t9"}}, nil
	})
	_, stdout, _ := runCLI("--json", "open", "https://a.test/")
	if !strings.Contains(stdout, `"id": "t9"`) || !strings.Contains(stdout, `"ok": true`) {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestErrorExitCodes(t *testing.T) {
	stubSend(t, func(ipc.Request) (ipc.Response, error) {
		return ipc.Response{}, fmt.Errorf("%w: dial refused", ipc.ErrServerUnavailable)
	})
	code, _, stderr := runCLI("next")
	if code != exitUnavailable || !strings.Contains(stderr, "not running") {
		t.Fatalf("unavailable: code = %d, stderr = %q", code, stderr)
	}

	stubSend(t, func(ipc.Request) (ipc.Response, error) {
		return ipc.ErrorResponse(errors.New("tabs: tab not found")), nil
	})
	code, _, stderr = runCLI("close", "missing")
	if code != exitFailed || !strings.Contains(stderr, "tab not found") {
		t.Fatalf("failed response: code = %d, stderr = %q", code, stderr)
	}
}
