package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const xvfbReadyTimeout = 5 * time.Second

// startXvfb launches a virtual display sized to the configured window and
// waits until its socket accepts clients.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	screen := fmt.Sprintf("%dx%dx24", m.cfg.Width, m.cfg.Height)
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", screen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	if err := waitForSocket(displaySocket(m.cfg.XvfbDisplay), xvfbReadyTimeout); err != nil {
		m.stopXvfb()
		return fmt.Errorf("xvfb %s: %w", m.cfg.XvfbDisplay, err)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "screen", screen, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		_ = m.xvfb.Process.Kill()
		_ = m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}

// displaySocket maps an X display such as ":99" or ":99.0" to its Unix
// socket path.
func displaySocket(display string) string {
	n := strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(n, '.'); i >= 0 {
		n = n[:i]
	}
	return filepath.Join("/tmp/.X11-unix", "X"+n)
}

func waitForSocket(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("display not ready after %v", timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
