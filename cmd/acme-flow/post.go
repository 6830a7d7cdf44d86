//go:build !plan9

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// shutdownSignals are the OS signals that trigger a clean exit.
// SIGTERM is included for launchd/systemd service managers.
var shutdownSignals = []os.Signal{os.Interrupt, unix.SIGTERM}

// post removes any stale socket, forks 9pserve announcing at
// unix!srvPath, and returns the server end of the socketpair.  9pserve
// multiplexes client connections onto it.  The cleanup function closes
// our end, which makes 9pserve exit, and reaps it.
func post(srvPath string) (io.ReadWriteCloser, func(), error) {
	os.Remove(srvPath)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	// x/sys/unix has no SOCK_CLOEXEC on darwin.  The copies exec.Cmd
	// dup2s onto the child's stdin and stdout survive, since dup2
	// clears FD_CLOEXEC on the destination.
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	parent := os.NewFile(uintptr(fds[0]), "acme-flow-srv")
	child := os.NewFile(uintptr(fds[1]), "acme-flow-9pserve")

	cmd := exec.Command("9pserve", "unix!"+srvPath)
	cmd.Stdin = child
	cmd.Stdout = child
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		parent.Close()
		child.Close()
		return nil, nil, fmt.Errorf("9pserve: %w", err)
	}
	child.Close()

	cleanup := func() {
		parent.Close()
		cmd.Wait() //nolint:errcheck
	}
	return parent, cleanup, nil
}
