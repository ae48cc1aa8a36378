package decision

import "fmt"

// Resolution is the closed set of outcomes a vote can carry.
type Resolution string

const (
	Merge Resolution = "merge"
	Hold  Resolution = "hold"
)

func (r Resolution) Valid() bool {
	switch r {
	case Merge, Hold:
		return true
	}
	return false
}

func (r Resolution) String() string { return string(r) }

// ParseResolution validates a raw resolution keyword.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown resolution %q", s)
	}
	return r, nil
}
