package reveal

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Pacing maps a chunk to the pause that follows it.
type Pacing struct {
	// FirstDelay applies before the first chunk of a job.
	FirstDelay time.Duration `json:"first_delay"`
	MinDelay   time.Duration `json:"min_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	// PerRune scales the pause after a chunk with its length.
	PerRune time.Duration `json:"per_rune"`
}

func DefaultPacing() Pacing {
	return Pacing{
		FirstDelay: 150 * time.Millisecond,
		MinDelay:   300 * time.Millisecond,
		MaxDelay:   1500 * time.Millisecond,
		PerRune:    30 * time.Millisecond,
	}
}

func (p Pacing) Validate() error {
	if p.FirstDelay < 0 || p.MinDelay < 0 || p.PerRune < 0 {
		return fmt.Errorf("reveal pacing: delays must not be negative")
	}
	if p.MaxDelay < p.MinDelay {
		return fmt.Errorf("reveal pacing: max delay %s is below min delay %s", p.MaxDelay, p.MinDelay)
	}
	return nil
}

// Delay returns the pause after emitting chunk, proportional to its rune
// length and clamped to [MinDelay, MaxDelay].
func (p Pacing) Delay(chunk string) time.Duration {
	n := utf8.RuneCountInString(strings.TrimSpace(chunk))
	if p.PerRune > 0 && n > int(p.MaxDelay/p.PerRune) {
		return p.MaxDelay
	}
	d := time.Duration(n) * p.PerRune
	if d < p.MinDelay {
		return p.MinDelay
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
