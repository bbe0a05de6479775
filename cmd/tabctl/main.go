// tabctl sends tab commands to a running tabdeck window.
//
// Usage:
//
//	tabctl open [--background] [URL]
//	tabctl close TAB_ID
//	tabctl list [--json]
package main

import (
	"os"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
