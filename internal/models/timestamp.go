package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Timestamp is the item sort key. Values that are absent or cannot be parsed
// decode to the zero time so they sort as the oldest entries instead of
// failing the whole document.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t in UTC.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Time: t.UTC()}
}

// ParseTimestamp accepts RFC3339 with or without fractional seconds and
// returns the zero Timestamp for anything else.
func ParseTimestamp(s string) Timestamp {
	if s == "" {
		return Timestamp{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t)
		}
	}
	return Timestamp{}
}

// unixMillisCutoff separates unix seconds from unix milliseconds in numeric
// input. Seconds will not reach it until the year 5138.
const unixMillisCutoff = 100_000_000_000

func fromUnix(n int64) Timestamp {
	if n <= 0 {
		return Timestamp{}
	}
	if n >= unixMillisCutoff {
		return NewTimestamp(time.UnixMilli(n))
	}
	return NewTimestamp(time.Unix(n, 0))
}

// After reports whether t sorts strictly newer than u.
func (t Timestamp) After(u Timestamp) bool {
	return t.Time.After(u.Time)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*t = Timestamp{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*t = ParseTimestamp(s)
		return nil
	}

	if n, err := strconv.ParseFloat(string(data), 64); err == nil {
		*t = fromUnix(int64(n))
	}
	return nil
}
