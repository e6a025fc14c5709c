//go:build !windows

package shutdown

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// terminationSignals returns the signals that initiate shutdown.
func terminationSignals() []os.Signal {
	return []os.Signal{unix.SIGTERM, unix.SIGINT, unix.SIGUSR2}
}

// signalName returns the conventional name, e.g. "SIGTERM".
func signalName(sig os.Signal) string {
	if s, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(s); name != "" {
			return name
		}
	}
	return sig.String()
}
