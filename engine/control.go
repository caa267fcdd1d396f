package engine

import (
	"context"
	"os"

	"golang.org/x/term"
)

// runInteractiveKeys puts stdin into raw mode and maps keystrokes to
// engine controls: q quits (Run stops at its next loop iteration), p
// toggles pause, s prints a stats snapshot, d flips the engine's debug
// flag and logs its new value (the logger's level is left unchanged).
// It returns when ctx is canceled or stdin is not a terminal.
func (e *Engine) runInteractiveKeys(ctx context.Context) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to enter raw terminal mode, interactive keys disabled")
		return
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			if e.handleKey(buf[0]) {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// handleKey applies one keystroke and reports whether it should end
// the interactive-key loop (true only for 'q').
func (e *Engine) handleKey(b byte) bool {
	switch b {
	case 'q', 'Q':
		e.log.Info().Msg("quit requested, stopping at next loop iteration")
		e.Quit()
		return true
	case 'p', 'P':
		e.togglePause()
	case 's', 'S':
		e.logStats()
	case 'd', 'D':
		e.toggleDebug()
	}
	return false
}

func (e *Engine) togglePause() {
	e.mu.Lock()
	e.paused = !e.paused
	paused := e.paused
	e.mu.Unlock()
	e.log.Info().Bool("paused", paused).Msg("pause toggled")
}

// Paused reports whether the push/pull loop should skip work this
// iteration without tearing down any session.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) logStats() {
	ev := e.log.Info()
	for _, c := range e.Counters.Snapshot() {
		ev = ev.Int64(c.Name, c.Value)
	}
	for _, g := range e.Gauges.Snapshot() {
		ev = ev.Int64(g.Name, g.Value)
	}
	ev.Msg("stats snapshot")
}

func (e *Engine) toggleDebug() {
	e.debug = !e.debug
	e.log.Info().Bool("debug", e.debug).Msg("debug flag toggled")
}
