package message

import "strings"

// Header is a single name/value header field.
type Header struct {
	Name  string
	Value string
}

// Equal compares headers by name and value. Names are compared case-insensitively
// since HTTP field names are.
func (h Header) Equal(o Header) bool {
	return strings.EqualFold(h.Name, o.Name) && h.Value == o.Value
}

func (h Header) String() string {
	return h.Name + ": " + h.Value
}

// HeaderSet is an ordered, deduplicated set of headers.
type HeaderSet struct {
	*List[Header]
}

// NewHeaderSet creates an empty header set.
func NewHeaderSet(headers ...Header) *HeaderSet {
	s := &HeaderSet{List: NewList(Header.Equal)}
	for _, h := range headers {
		s.Add(h)
	}
	return s
}

// Clone returns an independent copy.
func (s *HeaderSet) Clone() *HeaderSet {
	return &HeaderSet{List: s.List.Clone()}
}

// Get returns the value of the first header named name.
func (s *HeaderSet) Get(name string) (string, bool) {
	for _, h := range s.items {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}
