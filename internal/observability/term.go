package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/openrecords/foiabuddy/internal/progress"
)

const (
	colorReset    = "\033[0m"
	colorBold     = "\033[1m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

// termMu synchronizes ALL terminal output so the in-place progress bar
// rewrite can never be interrupted by a log write.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// TermWriter is a mutex-guarded io.Writer for log output, suitable for
// log.SetOutput(). It serialises writes with the progress bar via termMu.
type TermWriter struct{}

func (tw TermWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// PrintBanner clears the screen and prints the startup header.
func PrintBanner() {
	banner := `
    ________  _______       ____            __    __
   / ____/ / / /  _/ |     / / )           / /_  / /
  / /_  / / / // /| | ____/ / __  __  ____/ __ \/ /
 / __/ / /_/ // / | |/ / _  / / / / |/ / _  / / / /
/_/    \____/___/ |___/\__,_/_/ /_/|___/\__,_/_/_/

        >> FOIA REQUEST PROCESSING ENGINE <<
`
	width := termWidth()
	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

// ProgressBar renders pipeline events as an in-place terminal bar. Attach it
// to the run's broadcaster; it never returns an error so it is never dropped.
type ProgressBar struct {
	barWidth int
}

func NewProgressBar() *ProgressBar {
	return &ProgressBar{barWidth: 30}
}

// Notify implements progress.Observer.
func (p *ProgressBar) Notify(e progress.Event) error {
	filled := clamp(int(e.Progress*float64(p.barWidth)), 0, p.barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", p.barWidth-filled)

	label := e.Stage
	if label == "" {
		label = e.Message
	}
	if len(label) > 40 {
		label = label[:37] + "..."
	}

	barColor := colorNeonCyan
	if e.StageStatus == progress.StageFailed || e.Type == progress.EventError {
		barColor = colorNeonMag
	}

	line := fmt.Sprintf("\r\033[K%s[%s]%s %3.0f%% %s", barColor, bar, colorReset, e.Progress*100, label)

	termMu.Lock()
	fmt.Print(line)
	if e.Type == progress.EventCompleted || e.Type == progress.EventError {
		fmt.Println()
	}
	termMu.Unlock()
	return nil
}
