package message

import (
	"strings"
	"time"

	"github.com/volley/pkg/errs"
)

// Cookie is a request cookie. A zero Expires marks a session cookie, which
// never expires.
type Cookie struct {
	Name    string
	Value   string
	Domain  string
	Path    string
	Expires time.Time
}

// Equal compares cookies by name only.
func (c Cookie) Equal(o Cookie) bool {
	return c.Name == o.Name
}

// Expired reports whether the cookie expiry is at or before now.
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}

// CookieJar is an ordered, deduplicated set of cookies that refuses cookies
// which are already expired.
type CookieJar struct {
	*List[Cookie]
	now func() time.Time
}

// NewCookieJar creates an empty jar using the wall clock.
func NewCookieJar() *CookieJar {
	return NewCookieJarWithClock(time.Now)
}

// NewCookieJarWithClock creates an empty jar that reads "now" from clock.
func NewCookieJarWithClock(clock func() time.Time) *CookieJar {
	return &CookieJar{List: NewList(Cookie.Equal), now: clock}
}

// Add removes any cookie with the same name and appends c unless it has
// already expired. An expired cookie therefore deletes its predecessor.
func (j *CookieJar) Add(c Cookie) {
	j.RemoveDuplicate(c)
	if c.Expired(j.now()) {
		return
	}
	j.items = append(j.items, c)
}

// AddAt is Add at a given index.
func (j *CookieJar) AddAt(index int, c Cookie) error {
	if !c.Expired(j.now()) {
		return j.List.AddAt(index, c)
	}

	size := j.Len()
	if j.Contains(c) {
		size--
	}
	if index < 0 || index > size {
		return errs.IndexOutOfRange(index, size)
	}
	j.RemoveDuplicate(c)
	return nil
}

// PruneExpired removes every cookie whose expiry is at or before now and
// returns how many were removed.
func (j *CookieJar) PruneExpired(now time.Time) int {
	return j.RemoveFunc(func(c Cookie) bool {
		return c.Expired(now)
	})
}

// Clone returns an independent copy sharing the clock.
func (j *CookieJar) Clone() *CookieJar {
	return &CookieJar{List: j.List.Clone(), now: j.now}
}

// Header renders the jar as a Cookie header value.
func (j *CookieJar) Header() string {
	parts := make([]string, 0, j.Len())
	for _, c := range j.items {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
