package jobs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobdemo/internal/jobs"
	"jobdemo/internal/shared"
)

func TestParseCron(t *testing.T) {
	from := time.Date(2025, 1, 1, 10, 0, 2, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/5 * * * * *", time.Date(2025, 1, 1, 10, 0, 5, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"@hourly", time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"@every 30s", time.Date(2025, 1, 1, 10, 0, 32, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sched, err := jobs.ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(from))
		})
	}
}

func TestParseCronInvalid(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "61 * * * * *", "* * *"} {
		_, err := jobs.ParseCron(expr)
		require.Error(t, err, expr)
		assert.True(t, shared.IsValidation(err), "%q: %v", expr, err)
	}
}
