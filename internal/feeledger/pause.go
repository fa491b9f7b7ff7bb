package feeledger

import "github.com/R3E-Network/token_ledger/internal/errors"

// PauseSwitch gates the transfer family. The zero value is active.
type PauseSwitch struct {
	paused bool
}

// Paused reports whether transfers are halted.
func (p *PauseSwitch) Paused() bool { return p.paused }

// Set stores v and reports whether the flag changed.
func (p *PauseSwitch) Set(v bool) bool {
	if p.paused == v {
		return false
	}
	p.paused = v
	return true
}

// RequireActive fails with SystemPaused while paused.
func (p *PauseSwitch) RequireActive() error {
	if p.paused {
		return errors.SystemPaused()
	}
	return nil
}
