package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1536, "1.5 KB"},
		{"megabytes", 10 * 1024 * 1024, "10.0 MB"},
		{"gigabytes", int64(2.5 * 1024 * 1024 * 1024), "2.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Bytes(tt.bytes))
		})
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "42", Number(42))
}

func TestNumberCompact(t *testing.T) {
	assert.Equal(t, "1.2M", NumberCompact(1234567))
	assert.Equal(t, "1.5K", NumberCompact(1500))
	assert.Equal(t, "999", NumberCompact(999))
}

func TestCronDescription(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"0 2 * * *", "Daily at 2AM"},
		{"30 14 * * *", "Daily at 2:30PM"},
		{"0 0 * * *", "Daily at midnight"},
		{"* * * * *", "Every minute"},
		{"0 * * * *", "Every hour"},
		{"15 * * * *", "Every hour at :15"},
		{"*/10 * * * *", "Every 10 minutes"},
		{"0 */6 * * *", "Every 6 hours"},
		{"0 9 * * 1", "Mondays at 9AM"},
		{"0 8 1 * *", "1st of each month at 8AM"},
		{"not a cron", "not a cron"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			assert.Equal(t, tt.want, CronDescription(tt.expr))
		})
	}
}

func TestRelativeTime(t *testing.T) {
	assert.Equal(t, "just now", RelativeTime(time.Now()))
	assert.Equal(t, "5 minutes ago", RelativeTime(time.Now().Add(-5*time.Minute)))
	assert.Equal(t, "1 hour ago", RelativeTime(time.Now().Add(-61*time.Minute)))
	assert.Equal(t, "2 days ago", RelativeTime(time.Now().Add(-49*time.Hour)))
	assert.Equal(t, "in 2 hours", RelativeTime(time.Now().Add(2*time.Hour+time.Minute)))
}

func TestRelativeTimeShort(t *testing.T) {
	assert.Equal(t, "now", RelativeTimeShort(time.Now()))
	assert.Equal(t, "5m ago", RelativeTimeShort(time.Now().Add(-5*time.Minute)))
	assert.Equal(t, "soon", RelativeTimeShort(time.Now().Add(time.Hour)))
}
