package statusbar

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "statusbar").Logger()

const refreshInterval = 10 * time.Second

// Notifier tells a status bar program (i3blocks by default) to refresh its
// lyric block by sending it a real-time signal.
type Notifier struct {
	program string
	signal  syscall.Signal

	pid      int
	pidMutex sync.RWMutex

	// lookup returns candidate PIDs for program.
	lookup func(program string) ([]int, error)
	send   func(pid int, sig syscall.Signal) error
}

// NewNotifier creates a notifier for program. i3blocks maps signal N of a
// block to SIGRTMIN+N, so signal 21 on a block is 55 here.
func NewNotifier(program string, signal int) *Notifier {
	return &Notifier{
		program: program,
		signal:  syscall.Signal(signal),
		pid:     -1,
		lookup:  findPIDs,
		send:    sendSignal,
	}
}

// Run refreshes the program PID periodically until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	if err := n.refreshPID(); err != nil {
		logger.Debug().Err(err).Msg("Status bar not found yet")
	}

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	logger.Info().Str("program", n.program).Int("signal", int(n.signal)).Msg("Status bar notifier started")
	for {
		select {
		case <-ticker.C:
			if err := n.refreshPID(); err != nil {
				logger.Debug().Err(err).Msg("Failed to refresh status bar PID")
			}
		case <-ctx.Done():
			return
		}
	}
}

// refreshPID updates the stored PID of the status bar process
func (n *Notifier) refreshPID() error {
	pids, err := n.lookup(n.program)

	n.pidMutex.Lock()
	defer n.pidMutex.Unlock()

	if err != nil || len(pids) == 0 {
		n.pid = -1
		if err == nil {
			err = fmt.Errorf("%s process not found", n.program)
		}
		return err
	}

	// If multiple PIDs, take the first one
	if n.pid != pids[0] {
		logger.Info().Int("old_pid", n.pid).Int("pid", pids[0]).Msg("Status bar PID updated")
	}
	n.pid = pids[0]
	return nil
}

// PID returns the current stored PID
func (n *Notifier) PID() int {
	n.pidMutex.RLock()
	defer n.pidMutex.RUnlock()
	return n.pid
}

// Notify signals the status bar. A missing bar triggers one PID refresh.
func (n *Notifier) Notify() error {
	pid := n.PID()
	if pid <= 0 {
		if err := n.refreshPID(); err != nil {
			return err
		}
		pid = n.PID()
	}

	if err := n.send(pid, n.signal); err != nil {
		n.pidMutex.Lock()
		n.pid = -1
		n.pidMutex.Unlock()
		return fmt.Errorf("failed to send signal %d to process %d: %w", n.signal, pid, err)
	}
	return nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}

// findPIDs tries pgrep first and falls back to scanning ps output.
func findPIDs(program string) ([]int, error) {
	if out, err := exec.Command("pgrep", "-x", program).Output(); err == nil {
		return parsePgrep(string(out)), nil
	}

	out, err := exec.Command("ps", "-eo", "pid,comm").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run ps command: %w", err)
	}
	return parsePs(string(out), program), nil
}

func parsePgrep(out string) []int {
	var pids []int
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

func parsePs(out, program string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != program {
			continue
		}
		if pid, err := strconv.Atoi(fields[0]); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}
