package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// ProgressBar shows upload progress.
type ProgressBar struct {
	w     io.Writer
	title string
	width int

	mu      sync.Mutex
	total   int64
	current int64
	last    int // last rendered percentage, -1 before the first render
}

// NewProgressBar creates a progress bar writing to w.
func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{w: w, title: title, width: 30, last: -1}
}

// Update sets the absolute progress. Redraws only when the whole
// percentage changes.
func (p *ProgressBar) Update(current, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.total = total
	if pct := p.percent(); pct != p.last || total <= 0 {
		p.last = pct
		p.render()
	}
}

// Finish draws the final state and ends the line.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total > 0 {
		p.current = p.total
	}
	p.render()
	fmt.Fprintln(p.w)
}

func (p *ProgressBar) percent() int {
	if p.total <= 0 {
		return 0
	}
	return int(min(p.current*100/p.total, 100))
}

func (p *ProgressBar) render() {
	if p.total <= 0 {
		fmt.Fprintf(p.w, "\r%s %s", p.title, formatBytes(p.current))
		return
	}

	pct := p.percent()
	filled := p.width * pct / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)
	fmt.Fprintf(p.w, "\r%s [%s] %3d%% (%s/%s)",
		p.title, bar, pct, formatBytes(p.current), formatBytes(p.total))
}

// formatBytes formats a byte count with binary units.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
