package core

import (
	"fmt"
	"strings"
)

// Mode selects how a map click is interpreted.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDrawing
	ModePlacing
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeDrawing:
		return "drawing"
	case ModePlacing:
		return "placing"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a wire name back onto a Mode. "view" is accepted as an
// alias for idle.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle", "view", "":
		return ModeIdle, nil
	case "drawing", "draw":
		return ModeDrawing, nil
	case "placing", "place", "anchor":
		return ModePlacing, nil
	default:
		return ModeIdle, fmt.Errorf("unknown mode %q", s)
	}
}

// ModeController is the click-interpretation state machine. The zero value
// is idle. It has no terminal state.
type ModeController struct {
	mode Mode
}

// Mode returns the current mode.
func (c *ModeController) Mode() Mode { return c.mode }

// Enter switches to m and returns the previous mode.
func (c *ModeController) Enter(m Mode) Mode {
	prev := c.mode
	c.mode = m
	return prev
}

// Reset returns to idle.
func (c *ModeController) Reset() { c.mode = ModeIdle }
