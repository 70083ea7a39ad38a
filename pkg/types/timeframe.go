package types

import (
	"fmt"
	"time"
)

// Timeframe identifies a canonical bar period.
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
	TimeframeD1  Timeframe = "D1"
	TimeframeW1  Timeframe = "W1"
)

var timeframeMinutes = map[Timeframe]int{
	TimeframeM1:  1,
	TimeframeM5:  5,
	TimeframeM15: 15,
	TimeframeM30: 30,
	TimeframeH1:  60,
	TimeframeH4:  240,
	TimeframeD1:  1440,
	TimeframeW1:  10080,
}

// Timeframes lists all supported timeframes, shortest first.
func Timeframes() []Timeframe {
	return []Timeframe{
		TimeframeM1, TimeframeM5, TimeframeM15, TimeframeM30,
		TimeframeH1, TimeframeH4, TimeframeD1, TimeframeW1,
	}
}

// Valid reports whether the timeframe is one of the canonical values.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// Minutes returns the canonical minute count of the timeframe.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

// Seconds returns the timeframe length in seconds.
func (tf Timeframe) Seconds() int64 {
	return int64(timeframeMinutes[tf]) * 60
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(timeframeMinutes[tf]) * time.Minute
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// TimeframeFromMinutes maps a broker period in minutes to a timeframe name.
func TimeframeFromMinutes(minutes int) (Timeframe, error) {
	for tf, m := range timeframeMinutes {
		if m == minutes {
			return tf, nil
		}
	}
	return "", fmt.Errorf("no timeframe with period %d minutes", minutes)
}

// BucketStart truncates a timestamp to the opening instant of the bar that
// contains it on this timeframe.
func (tf Timeframe) BucketStart(t time.Time) time.Time {
	secs := tf.Seconds()
	unix := t.UTC().Unix()
	return time.Unix(unix-unix%secs, 0).UTC()
}
