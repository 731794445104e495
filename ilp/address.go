package ilp

import (
	"strings"

	"github.com/pkg/errors"
)

// Address is an ILP-style dotted destination address, e.g. "g.agent.peer-3".
type Address string

// Validate checks the address is non-empty and contains no empty segments.
func (a Address) Validate() error {
	if a == "" {
		return errors.New("address is empty")
	}
	for _, segment := range strings.Split(string(a), ".") {
		if segment == "" {
			return errors.Errorf("address contains an empty segment, address:%s", a)
		}
	}
	return nil
}

// Segments splits the address on dots.
func (a Address) Segments() []string {
	return strings.Split(string(a), ".")
}

// HasPrefix reports whether prefix matches the address on dotted-segment
// boundaries: "g.agent" matches "g.agent.peer-3" but not "g.agentx".
func (a Address) HasPrefix(prefix Address) bool {
	if a == prefix {
		return true
	}
	p := string(prefix)
	s := string(a)
	return len(s) > len(p) && strings.HasPrefix(s, p) && s[len(p)] == '.'
}
