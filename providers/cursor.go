package providers

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Cursor is the decoded form of the opaque cursor strings providers hand
// out. Since is the lower bound of the current sweep, HighWater the newest
// publish time seen so far in it. Page and Token locate the next page.
type Cursor struct {
	Since     time.Time
	HighWater time.Time
	Page      int
	Token     string
}

// Encode produces a canonical string so equal cursors compare equal.
func (c Cursor) Encode() string {
	v := url.Values{}
	if !c.Since.IsZero() {
		v.Set("since", c.Since.UTC().Format(time.RFC3339))
	}
	if !c.HighWater.IsZero() && c.HighWater.After(c.Since) {
		v.Set("hwm", c.HighWater.UTC().Format(time.RFC3339))
	}
	if c.Page > 1 {
		v.Set("page", strconv.Itoa(c.Page))
	}
	if c.Token != "" {
		v.Set("token", c.Token)
	}
	return v.Encode()
}

// ParseCursor decodes a cursor string. The empty string decodes to the
// zero cursor.
func ParseCursor(s string) (Cursor, error) {
	var c Cursor
	if s == "" {
		return c, nil
	}
	v, err := url.ParseQuery(s)
	if err != nil {
		return c, fmt.Errorf("parse cursor %q: %w", s, err)
	}
	if since := v.Get("since"); since != "" {
		if c.Since, err = time.Parse(time.RFC3339, since); err != nil {
			return c, fmt.Errorf("parse cursor since: %w", err)
		}
	}
	if hwm := v.Get("hwm"); hwm != "" {
		if c.HighWater, err = time.Parse(time.RFC3339, hwm); err != nil {
			return c, fmt.Errorf("parse cursor hwm: %w", err)
		}
	}
	if page := v.Get("page"); page != "" {
		if c.Page, err = strconv.Atoi(page); err != nil {
			return c, fmt.Errorf("parse cursor page: %w", err)
		}
	}
	c.Token = v.Get("token")
	return c, nil
}

// SinceCursor is the starting cursor for a sweep beginning at t.
func SinceCursor(t time.Time) string {
	return Cursor{Since: t.Truncate(time.Second)}.Encode()
}

// Observe raises the high-water mark.
func (c *Cursor) Observe(t *time.Time) {
	if t != nil && t.After(c.HighWater) {
		c.HighWater = t.Truncate(time.Second)
	}
}

// Next returns the cursor for the following page of the same sweep.
func (c Cursor) Next(page int, token string) Cursor {
	return Cursor{Since: c.Since, HighWater: c.HighWater, Page: page, Token: token}
}

// Settle ends the sweep: the next one starts at the newest publish time
// seen. With nothing newer it is the unchanged starting cursor.
func (c Cursor) Settle() Cursor {
	since := c.Since
	if c.HighWater.After(since) {
		since = c.HighWater
	}
	return Cursor{Since: since}
}
