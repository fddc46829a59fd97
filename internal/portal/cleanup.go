package portal

import (
	"log/slog"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// browserImageNames are the process names counted as browser processes
// when sweeping up after a session.
var browserImageNames = []string{
	"chrome",
	"chromium",
	"chromium-browser",
	"headless_shell",
	"google-chrome",
}

func isBrowserProcess(name string) bool {
	lower := strings.ToLower(name)
	for _, image := range browserImageNames {
		if strings.HasPrefix(lower, image) {
			return true
		}
	}
	return false
}

// snapshotBrowserPIDs records the browser processes alive before a
// session starts, so the sweep only touches processes the session
// spawned.
func snapshotBrowserPIDs() map[int32]bool {
	pids := make(map[int32]bool)
	procs, err := process.Processes()
	if err != nil {
		return pids
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if isBrowserProcess(name) {
			pids[p.Pid] = true
		}
	}
	return pids
}

// sweepBrowserProcesses force-terminates browser processes that appeared
// during the session and survived driver teardown. Group leaders take
// their whole process group with them.
func sweepBrowserProcesses(prior map[int32]bool, logger *slog.Logger) {
	procs, err := process.Processes()
	if err != nil {
		return
	}
	for _, p := range procs {
		if prior[p.Pid] {
			continue
		}
		name, err := p.Name()
		if err != nil || !isBrowserProcess(name) {
			continue
		}

		logger.Debug("Terminating leftover browser process", "pid", p.Pid, "name", name)
		if pgid, err := unix.Getpgid(int(p.Pid)); err == nil && pgid == int(p.Pid) {
			if err := unix.Kill(-pgid, unix.SIGKILL); err == nil {
				continue
			}
		}
		if err := p.Kill(); err != nil {
			logger.Debug("Failed to kill browser process", "pid", p.Pid, "error", err)
		}
	}
}
