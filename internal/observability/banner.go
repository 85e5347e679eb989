package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
	colorYellow   = "\033[93m"
)

var spinnerFrames = []string{"◐", "◓", "◑", "◒"}
var spinnerIdx = 0

// termMu serialises every terminal write so the status line's cursor
// save/restore is never split by a log line.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal. The live
// status line is only drawn when it is.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
  ___  ____  _____ ____      _  _____ ___  ____
 / _ \|  _ \| ____|  _ \    / \|_   _/ _ \|  _ \
| | | | |_) |  _| | |_) |  / _ \ | || | | | |_) |
| |_| |  __/| |___|  _ <  / ___ \| || |_| |  _ <
 \___/|_|   |_____|_| \_\/_/   \_\_| \___/|_| \_\

      >> see . recall . decide . act . learn <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// InitializeTerminal reserves rows 1-10 for the banner and status line and
// scrolls logs below them.
func InitializeTerminal() {
	fmt.Print("\033[12;r")
	fmt.Print("\033[12;1H")
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws row 10 with the agent phase, goal, uptime and
// heap usage.
func PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024

	phase, goal, lastHB := GetStatus()

	pulse, pulseColor := "HEALTHY", colorNeonCyan
	switch delta := time.Since(lastHB); {
	case delta >= 90*time.Second:
		pulse, pulseColor = "OFFLINE", colorNeonMag
	case delta >= 40*time.Second:
		pulse, pulseColor = "LAGGING", colorYellow
	}

	phaseColor := colorReset
	spinner := " "
	switch phase {
	case PhaseIdle:
	case PhaseReplay:
		phaseColor = colorPurple
		spinner = spinnerFrames[spinnerIdx]
	default:
		phaseColor = colorNeonCyan
		spinner = spinnerFrames[spinnerIdx]
	}
	if phase != PhaseIdle {
		spinnerIdx = (spinnerIdx + 1) % len(spinnerFrames)
	}

	displayGoal := goal
	if displayGoal == "" {
		displayGoal = "Waiting..."
	}
	if len(displayGoal) > 32 {
		displayGoal = displayGoal[:29] + "..."
	}

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%-7s%s | %s%s %-7s%s [%s] [%v] [%.1fMB]\033[u",
		colorReset,
		lastHB.Format("15:04:05"),
		pulseColor, pulse, colorReset,
		phaseColor, spinner, phase, colorReset,
		displayGoal,
		uptime,
		memMB,
	)

	termMu.Lock()
	fmt.Print(statusStr)
	termMu.Unlock()
}
