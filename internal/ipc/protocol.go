// Package ipc carries tab commands from a second process (the tabctl CLI or
// a relaunched shell) to the running shell. Each connection carries exactly
// one newline-delimited JSON request followed by one JSON response.
//
// On Windows the transport is a named pipe restricted to the current user;
// elsewhere it is a user-private unix socket.
package ipc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"tabdeck/internal/tabs"
	"tabdeck/internal/userutil"
)

// EndpointEnv overrides the default endpoint when it passes validation.
const EndpointEnv = "TABDECK_IPC"

// CommandKind names a request. The set is closed; unknown kinds are
// rejected by the server.
type CommandKind string

const (
	CmdOpen     CommandKind = "open"
	CmdClose    CommandKind = "close"
	CmdActivate CommandKind = "activate"
	CmdNext     CommandKind = "next"
	CmdPrevious CommandKind = "prev"
	CmdReopen   CommandKind = "reopen"
	CmdPin      CommandKind = "pin"
	CmdList     CommandKind = "list"
	// CmdShowWindow asks the shell to raise its window. A second launch
	// sends it before exiting.
	CmdShowWindow CommandKind = "show-window"
)

var commandKinds = map[CommandKind]bool{
	CmdOpen: true, CmdClose: true, CmdActivate: true, CmdNext: true, CmdPrevious: true,
	CmdReopen: true, CmdPin: true, CmdList: true, CmdShowWindow: true,
}

// Valid reports whether k is a known command.
func (k CommandKind) Valid() bool {
	return commandKinds[k]
}

// needsTab reports whether k targets a specific tab.
func (k CommandKind) needsTab() bool {
	return k == CmdClose || k == CmdActivate || k == CmdPin
}

// Request is a single command.
type Request struct {
	Command    CommandKind `json:"command"`
	TabID      string      `json:"tab_id,omitempty"`
	URL        string      `json:"url,omitempty"`
	Background bool        `json:"background,omitempty"`
}

// Validate checks the command kind and its required fields.
func (r Request) Validate() error {
	if !r.Command.Valid() {
		return fmt.Errorf("unknown command %q", r.Command)
	}
	if r.Command.needsTab() && strings.TrimSpace(r.TabID) == "" {
		return fmt.Errorf("%s requires tab_id", r.Command)
	}
	return nil
}

// Response is the result of a Request. OK is false when Error is set.
type Response struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	Tab   *tabs.TabInfo  `json:"tab,omitempty"`
	Tabs  []tabs.TabInfo `json:"tabs,omitempty"`
}

// ErrorResponse builds a failed Response.
func ErrorResponse(err error) Response {
	return Response{Error: err.Error()}
}

// Executor runs requests on behalf of the server.
type Executor interface {
	Execute(req Request) Response
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(req Request) Response

func (f ExecutorFunc) Execute(req Request) Response { return f(req) }

var endpointPattern = regexp.MustCompile(`(?i)^(\\\\\.\\pipe\\tabdeck-[a-z0-9._-]{1,128}|/[^\x00]{1,200}\.sock)$`)

// DefaultEndpoint returns the per-user endpoint, honouring EndpointEnv when
// it names a tabdeck pipe or an absolute .sock path.
func DefaultEndpoint() string {
	if v, ok := trustedEndpointFromEnv(); ok {
		return v
	}
	return defaultEndpointFor(userutil.CurrentUsername())
}

func trustedEndpointFromEnv() (string, bool) {
	value := strings.TrimSpace(os.Getenv(EndpointEnv))
	if value == "" {
		return "", false
	}
	if !endpointPattern.MatchString(value) {
		slog.Warn("[DEBUG-IPC] endpoint override rejected: value does not match allowed pattern", "env", EndpointEnv, "value", value)
		return "", false
	}
	return value, true
}

func encodeFrame(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, err
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
