package schemas

import "fmt"

// Role classifies what kind of interactive control an element is. The roles
// are deliberately coarse; fine-grained HTML semantics are flattened into the
// handful of categories the resolver actually reasons about.
type Role string

const (
	RoleButton    Role = "button"
	RoleLink      Role = "link"
	RoleInputText Role = "input-text"
	RoleInputTel  Role = "input-tel"
	RoleInputOTP  Role = "input-otp"
	RoleClickable Role = "generic-clickable"
)

// Handle identifies an element within the snapshot that produced it. It is an
// arena index: valid only for the lifetime of that snapshot, never carried
// across a navigation.
type Handle int

// InvalidHandle marks a candidate that does not reference a snapshot element
// (e.g. a raw coordinate fallback).
const InvalidHandle Handle = -1

// BoundingBox is an element's viewport-relative box in CSS pixels.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// ElementDescriptor is one interactive element captured in a PageSnapshot.
type ElementDescriptor struct {
	Handle     Handle            `json:"handle"`
	Tag        string            `json:"tag"`
	Role       Role              `json:"role"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes"`
	Box        BoundingBox       `json:"box"`
	Visible    bool              `json:"visible"`
}

// Attr returns an attribute value, or "" when absent.
func (e ElementDescriptor) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// String renders a short human-readable description used in justifications
// and attempt trails.
func (e ElementDescriptor) String() string {
	text := e.Text
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return fmt.Sprintf("<%s role=%s text=%q @(%.0f,%.0f) %.0fx%.0f>", e.Tag, e.Role, text, e.Box.X, e.Box.Y, e.Box.W, e.Box.H)
}

// PageSnapshot is an immutable point-in-time capture of a page's interactive
// elements. An empty snapshot is a valid, retryable result (the page was
// mid-navigation), never an error.
type PageSnapshot struct {
	URL      string              `json:"url"`
	Title    string              `json:"title"`
	Viewport BoundingBox         `json:"viewport"`
	Elements []ElementDescriptor `json:"elements"`
}

// Empty reports whether the capture produced no elements.
func (s *PageSnapshot) Empty() bool {
	return s == nil || len(s.Elements) == 0
}

// Element resolves a handle back to its descriptor. The second return is
// false for handles that do not belong to this snapshot.
func (s *PageSnapshot) Element(h Handle) (ElementDescriptor, bool) {
	if s == nil || h < 0 || int(h) >= len(s.Elements) {
		return ElementDescriptor{}, false
	}
	return s.Elements[h], true
}
