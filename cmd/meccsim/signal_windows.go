//go:build windows

package main

import "os"

// shutdownSignals stop long-running commands. Windows has no SIGTERM.
var shutdownSignals = []os.Signal{os.Interrupt}
