package wbtime

import (
	"fmt"
	"time"
)

// WB timestamps come without an offset and mean Moscow wall-clock time.
// dateFrom is expected back in the same shape, second precision, no suffix.
const wbLayout = "2006-01-02T15:04:05"

// ZeroCancelDate is WB's "not cancelled" sentinel in cancelDate fields.
const ZeroCancelDate = "0001-01-01T00:00:00"

var moscow *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// cmd binaries import time/tzdata, so this only fires on a broken build
		panic(fmt.Sprintf("load Europe/Moscow: %v", err))
	}
	moscow = loc
}

// ToUTC parses a WB timestamp and returns the absolute instant in UTC.
// Offset-less input is interpreted as Moscow wall-clock time; input that
// carries an offset is honored as-is.
func ToUTC(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation(wbLayout, s, moscow)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse wb timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatMSK renders an absolute instant as the Moscow wall-clock string WB
// expects for dateFrom: second precision, no offset suffix.
func FormatMSK(t time.Time) string {
	return t.In(moscow).Format(wbLayout)
}

// CancelUTC normalizes a cancelDate field. WB reports "not cancelled" as
// the zero date, which must never become a real instant.
func CancelUTC(s string) (*time.Time, error) {
	if s == "" || s == ZeroCancelDate {
		return nil, nil
	}
	t, err := ToUTC(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DayRangeUTC converts a Moscow civil day ("YYYY-MM-DD") to the UTC
// half-open range [midnight, next midnight).
func DayRangeUTC(day string) (time.Time, time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", day, moscow)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	return d.UTC(), d.AddDate(0, 0, 1).UTC(), nil
}
