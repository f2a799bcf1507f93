package repository

import "time"

// IsValidTimeframe returns true if tf is a supported timeframe.
func IsValidTimeframe(tf Timeframe) bool {
	switch tf {
	case TF1s, TF1m, TF5m:
		return true
	default:
		return false
	}
}

// DefaultTimeframe returns the default timeframe.
func DefaultTimeframe() Timeframe { return TF1m }

// TimeframeFor maps a candle interval to the closest stored timeframe.
func TimeframeFor(interval time.Duration) Timeframe {
	switch {
	case interval <= time.Second:
		return TF1s
	case interval >= 5*time.Minute:
		return TF5m
	default:
		return TF1m
	}
}

// Duration returns the bucket length of tf.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1s:
		return time.Second
	case TF5m:
		return 5 * time.Minute
	default:
		return time.Minute
	}
}
