package generate

import "sync/atomic"

// Sticky remembers the last model that produced a story. Reads and writes
// are lock-free; concurrent callers may briefly disagree.
type Sticky struct {
	model atomic.Pointer[string]
}

// Get returns the remembered model, or "" when none has succeeded yet.
func (s *Sticky) Get() string {
	if s == nil {
		return ""
	}
	if p := s.model.Load(); p != nil {
		return *p
	}
	return ""
}

// Set records model as the last success.
func (s *Sticky) Set(model string) {
	if s == nil || model == "" {
		return
	}
	s.model.Store(&model)
}

// Candidates holds the ordered model list and the sticky hint.
type Candidates struct {
	Models []string
	Sticky *Sticky
}

// Primary returns the first declared model.
func (c Candidates) Primary() string {
	if len(c.Models) == 0 {
		return ""
	}
	return c.Models[0]
}

// Preferred returns the sticky model, or the primary when nothing is sticky.
func (c Candidates) Preferred() string {
	if m := c.Sticky.Get(); m != "" {
		return m
	}
	return c.Primary()
}

// Alternate returns the single fallback for first: the primary when first is
// not the primary, otherwise the second declared model.
func (c Candidates) Alternate(first string) string {
	if first != c.Primary() {
		return c.Primary()
	}
	if len(c.Models) > 1 {
		return c.Models[1]
	}
	return ""
}
