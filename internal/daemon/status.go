package daemon

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/hieund/wifiwarden/internal/supervisor"
)

// statusRenderer writes a one-line status summary to stdout after each
// tick, overwriting in place. Inactive when stdout is not a terminal so
// redirected output only carries the logs.
type statusRenderer struct {
	out   *os.File
	isTTY bool
}

func newStatusRenderer() *statusRenderer {
	out := os.Stdout
	return &statusRenderer{
		out:   out,
		isTTY: term.IsTerminal(int(out.Fd())),
	}
}

// render writes the status line. The sharing lookup costs a bus round
// trip, so it is resolved only when a terminal is attached.
func (r *statusRenderer) render(snap supervisor.Snapshot, identityAvailable bool, sharing func() string) {
	if !r.isTTY {
		return
	}
	fmt.Fprintf(r.out, "\r\x1b[2K%s", statusLine(snap, identityAvailable, sharing()))
}

// clear erases the in-place status line so the shell prompt lands on a
// clean line after shutdown.
func (r *statusRenderer) clear() {
	if !r.isTTY {
		return
	}
	fmt.Fprint(r.out, "\r\x1b[2K")
}

func statusLine(snap supervisor.Snapshot, identityAvailable bool, sharingState string) string {
	line := fmt.Sprintf("state=%s failures=%d", snap.State, snap.ConsecutiveFailures)

	if identityAvailable {
		if snap.LastIdentityReset.IsZero() {
			line += " identity=ready"
		} else {
			line += fmt.Sprintf(" identity=reset %s ago",
				time.Since(snap.LastIdentityReset).Round(time.Second))
		}
	} else {
		line += " identity=unavailable"
	}

	if sharingState != "" {
		line += " sharing=" + sharingState
	}
	return line
}
