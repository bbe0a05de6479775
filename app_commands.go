package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"tabdeck/internal/ipc"
)

// executeIPCRequest serves tabctl and second launches.
func (a *App) executeIPCRequest(req ipc.Request) ipc.Response {
	slog.Debug("[DEBUG-IPC] request", "command", req.Command, "tabID", req.TabID)
	switch req.Command {
	case ipc.CmdShowWindow:
		a.bringWindowToFront()
		return ipc.Response{OK: true}
	case ipc.CmdOpen:
		info, err := a.OpenTab(req.URL, req.Background)
		if err != nil {
			return ipc.ErrorResponse(err)
		}
		if !req.Background {
			a.bringWindowToFront()
		}
		return ipc.Response{OK: true, Tab: &info}
	case ipc.CmdClose:
		return statusResponse(a.CloseTab(req.TabID))
	case ipc.CmdActivate:
		return statusResponse(a.ActivateTab(req.TabID))
	case ipc.CmdNext:
		return statusResponse(a.NextTab())
	case ipc.CmdPrevious:
		return statusResponse(a.PreviousTab())
	case ipc.CmdReopen:
		info, err := a.ReopenClosedTab()
		if err != nil {
			return ipc.ErrorResponse(err)
		}
		return ipc.Response{OK: true, Tab: info}
	case ipc.CmdPin:
		if _, err := a.TogglePinTab(req.TabID); err != nil {
			return ipc.ErrorResponse(err)
		}
		return a.tabResponse(req.TabID)
	case ipc.CmdList:
		return ipc.Response{OK: true, Tabs: a.ListTabs()}
	default:
		return ipc.ErrorResponse(fmt.Errorf("unknown command %q", req.Command))
	}
}

func statusResponse(err error) ipc.Response {
	if err != nil {
		return ipc.ErrorResponse(err)
	}
	return ipc.Response{OK: true}
}

func (a *App) tabResponse(id string) ipc.Response {
	manager, err := a.requireManager()
	if err != nil {
		return ipc.ErrorResponse(err)
	}
	info, err := manager.GetTab(id)
	if err != nil {
		return ipc.ErrorResponse(err)
	}
	return ipc.Response{OK: true, Tab: &info}
}

// wsCommandArgs is the union of argument fields used by strip commands.
type wsCommandArgs struct {
	TabID      string `json:"tab_id"`
	URL        string `json:"url"`
	Background bool   `json:"background"`
	Index      int    `json:"index"`
	Width      int    `json:"width"`
}

type pinResult struct {
	Pinned bool `json:"pinned"`
}

// handleWSCommand serves commands from the tab strip frontend.
func (a *App) handleWSCommand(_ context.Context, command string, raw json.RawMessage) (any, error) {
	var args wsCommandArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", command, err)
		}
	}
	switch command {
	case "list":
		return a.ListTabs(), nil
	case "open":
		return a.OpenTab(args.URL, args.Background)
	case "close":
		return nil, a.CloseTab(args.TabID)
	case "close-others":
		return nil, a.CloseOtherTabs(args.TabID)
	case "close-left":
		return nil, a.CloseTabsToLeft(args.TabID)
	case "close-right":
		return nil, a.CloseTabsToRight(args.TabID)
	case "activate":
		return nil, a.ActivateTab(args.TabID)
	case "next":
		return nil, a.NextTab()
	case "prev":
		return nil, a.PreviousTab()
	case "reopen":
		return a.ReopenClosedTab()
	case "duplicate":
		return a.DuplicateTab(args.TabID)
	case "pin":
		pinned, err := a.TogglePinTab(args.TabID)
		if err != nil {
			return nil, err
		}
		return pinResult{Pinned: pinned}, nil
	case "move":
		return nil, a.MoveTab(args.TabID, args.Index)
	case "resize":
		a.ResizeTabStrip(args.Width)
		return a.GetTabLayout(), nil
	case "layout":
		return a.GetTabLayout(), nil
	case "overflow":
		return a.GetOverflowTabs(), nil
	case "recent-logs":
		return a.GetRecentLogs(), nil
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
}
