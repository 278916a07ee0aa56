// internal/output/tx_progress.go
package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// TxProgress renders the stages of one transaction execution on a single
// status line: "⠋ [2/3] Submitting and registering (1.2s)".
// Hold advances the step counter without drawing, so a wallet prompt can
// own the terminal while the user decides.
type TxProgress struct {
	out   io.Writer
	total int
	now   func() time.Time

	mu       sync.Mutex
	step     int
	label    string
	began    time.Time
	stageAt  time.Time
	frameIdx int
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewTxProgress creates a progress line for an execution of total stages.
func NewTxProgress(out io.Writer, total int) *TxProgress {
	return &TxProgress{out: out, total: total, now: time.Now}
}

// Step moves to the next stage and animates it.
func (p *TxProgress) Step(label string) {
	p.mu.Lock()
	p.advance(label)
	start := !p.running
	if start {
		p.running = true
		p.stop = make(chan struct{})
		p.done = make(chan struct{})
	}
	p.render()
	p.mu.Unlock()

	if start {
		go p.animate(p.stop, p.done)
	}
}

// Hold moves to the next stage but leaves the line clear.
func (p *TxProgress) Hold(label string) {
	p.mu.Lock()
	p.advance(label)
	p.mu.Unlock()
	p.halt()
}

// Finish stops the animation and prints a final line with the total time.
func (p *TxProgress) Finish(ok bool, message string) {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.began.IsZero() {
		return
	}
	mark := "✓"
	if !ok {
		mark = "✗"
	}
	fmt.Fprintf(p.out, "%s %s (%s)\n", mark, message, formatElapsed(p.now().Sub(p.began)))
	p.began = time.Time{}
}

// Stop stops the animation and clears the line. Safe to call repeatedly.
func (p *TxProgress) Stop() {
	p.halt()
}

func (p *TxProgress) advance(label string) {
	now := p.now()
	if p.began.IsZero() {
		p.began = now
	}
	if p.step < p.total {
		p.step++
	}
	p.label = label
	p.stageAt = now
}

func (p *TxProgress) halt() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stop, p.done
	close(stop)
	p.mu.Unlock()

	<-done
	p.mu.Lock()
	fmt.Fprintf(p.out, "\r%80s\r", "")
	p.mu.Unlock()
}

func (p *TxProgress) animate(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			p.render()
			p.mu.Unlock()
		}
	}
}

// render draws the current line. Callers hold p.mu.
func (p *TxProgress) render() {
	frame := spinnerFrames[p.frameIdx]
	p.frameIdx = (p.frameIdx + 1) % len(spinnerFrames)
	fmt.Fprintf(p.out, "\r%s [%d/%d] %s (%s)          ",
		frame, p.step, p.total, p.label, formatElapsed(p.now().Sub(p.stageAt)))
}

func formatElapsed(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Truncate(time.Second).String()
}
