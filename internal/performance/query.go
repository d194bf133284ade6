package performance

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxLookback is how far in the past a query window may start
	MaxLookback = 7 * 24 * time.Hour
	// MaxLookbackDays is the largest day offset accepted for start or stop
	MaxLookbackDays = 7

	startHour = 0
	stopHour  = 23
)

// ParseQuery builds query parameters from their textual form: a comma
// separated field list and two times. A time is either an RFC 3339 timestamp
// or a whole number of days ago (0 to 7). A day offset resolves against now:
// a start to midnight of that day, a stop to 23:00 of that day. Such a start
// is moved a minute inside MaxLookback when it would fall outside it.
func ParseQuery(fields, startTime, stopTime string, now time.Time) (QueryParameters, error) {
	var q QueryParameters

	for _, f := range strings.Split(fields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			q.Fields = append(q.Fields, f)
		}
	}

	start, err := parseTime("start_time", startTime, now, startHour)
	if err != nil {
		return QueryParameters{}, err
	}
	if earliest := now.Add(-MaxLookback); isDayOffset(startTime) && start.Before(earliest) {
		start = earliest.Add(time.Minute).Truncate(time.Second)
	}
	stop, err := parseTime("stop_time", stopTime, now, stopHour)
	if err != nil {
		return QueryParameters{}, err
	}
	q.StartTime = start
	q.StopTime = stop

	return q, nil
}

func parseTime(field, value string, now time.Time, hour int) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, &ValidationError{Field: field, Reason: "is required"}
	}

	if days, err := strconv.Atoi(value); err == nil {
		if days < 0 || days > MaxLookbackDays {
			return time.Time{}, &ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("must be between 0 and %d days ago, got %d", MaxLookbackDays, days),
			}
		}
		y, m, d := now.AddDate(0, 0, -days).Date()
		return time.Date(y, m, d, hour, 0, 0, 0, now.Location()), nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "must be an RFC 3339 timestamp or a number of days ago, got " + value}
	}
	return t, nil
}

func isDayOffset(value string) bool {
	_, err := strconv.Atoi(strings.TrimSpace(value))
	return err == nil
}

// Validate checks the window policy against now: the window may not start
// more than MaxLookback ago and must not end before it starts.
func (q QueryParameters) Validate(now time.Time) error {
	if q.StartTime.IsZero() {
		return &ValidationError{Field: "start_time", Reason: "is required"}
	}
	if q.StopTime.IsZero() {
		return &ValidationError{Field: "stop_time", Reason: "is required"}
	}
	if q.StartTime.After(q.StopTime) {
		return &ValidationError{Field: "start_time", Reason: "must not be after stop_time"}
	}
	if q.StartTime.Before(now.Add(-MaxLookback)) {
		return &ValidationError{Field: "start_time", Reason: "must not be more than 7 days in the past"}
	}
	return nil
}

// Values encodes the parameters for the performance endpoint
func (q QueryParameters) Values() url.Values {
	v := url.Values{}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	v.Set("start_time", q.StartTime.Format(time.RFC3339))
	v.Set("stop_time", q.StopTime.Format(time.RFC3339))
	return v
}
