package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tabdeck/internal/ipc"
	"tabdeck/internal/tabs"
)

// sendFn is replaced in tests.
var sendFn = ipc.Send

const (
	exitOK          = 0
	exitFailed      = 1
	exitUnavailable = 3
)

type options struct {
	endpoint string
	timeout  time.Duration
	jsonOut  bool
}

func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ipc.ErrServerUnavailable):
		fmt.Fprintln(stderr, "tabctl: tabdeck is not running")
		return exitUnavailable
	default:
		fmt.Fprintln(stderr, "tabctl:", err)
		return exitFailed
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "tabctl",
		Short:         "Control the tabs of a running tabdeck window",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "IPC endpoint (default: per-user endpoint or $"+ipc.EndpointEnv+")")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 40*time.Second, "how long to wait for the window to answer")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print the raw response as JSON")

	var background bool
	open := &cobra.Command{
		Use:   "open [URL]",
		Short: "Open URL (or the home page) in a new tab",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.Request{Command: ipc.CmdOpen, Background: background}
			if len(args) == 1 {
				req.URL = args[0]
			}
			return run(cmd.Context(), opts, req, stdout)
		},
	}
	open.Flags().BoolVarP(&background, "background", "b", false, "open without activating the tab")

	root.AddCommand(
		open,
		tabCommand(opts, stdout, "close", "Close a tab", ipc.CmdClose),
		tabCommand(opts, stdout, "activate", "Activate a tab", ipc.CmdActivate),
		tabCommand(opts, stdout, "pin", "Toggle whether a tab is pinned", ipc.CmdPin),
		simpleCommand(opts, stdout, "next", "Activate the tab to the right", ipc.CmdNext),
		simpleCommand(opts, stdout, "prev", "Activate the tab to the left", ipc.CmdPrevious),
		simpleCommand(opts, stdout, "reopen", "Reopen the most recently closed tab", ipc.CmdReopen),
		simpleCommand(opts, stdout, "list", "List open tabs", ipc.CmdList),
		simpleCommand(opts, stdout, "show", "Raise the tabdeck window", ipc.CmdShowWindow),
	)
	return root
}

func tabCommand(opts *options, stdout io.Writer, use, short string, kind ipc.CommandKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TAB_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, ipc.Request{Command: kind, TabID: args[0]}, stdout)
		},
	}
}

func simpleCommand(opts *options, stdout io.Writer, use, short string, kind ipc.CommandKind) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, ipc.Request{Command: kind}, stdout)
		},
	}
}

func run(ctx context.Context, opts *options, req ipc.Request, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	resp, err := sendFn(ctx, opts.endpoint, req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.New(resp.Error)
	}
	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	switch {
	case req.Command == ipc.CmdList:
		return printTabs(stdout, resp.Tabs)
	case resp.Tab != nil:
		return printTabs(stdout, []tabs.TabInfo{*resp.Tab})
	}
	return nil
}

func printTabs(w io.Writer, list []tabs.TabInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tFLAGS\tTITLE\tURL")
	for _, info := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", info.ID, info.State, flags(info), info.Title, info.URL)
	}
	return tw.Flush()
}

func flags(info tabs.TabInfo) string {
	out := ""
	if info.Active {
		out += "*"
	}
	if info.Pinned {
		out += "P"
	}
	if info.Loading {
		out += "L"
	}
	if out == "" {
		return "-"
	}
	return out
}
