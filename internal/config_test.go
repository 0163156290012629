package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_UnmarshalJSON(t *testing.T) {
	t.Run("success - unmarshal json works as expected", func(t *testing.T) {
		// arrange
		jsonInput := []byte(`{
			"protected_branches": ["main", "release"],
			"max_concurrent_runs": 4,
			"cancel_poll_seconds": 2.5,
			"cache_retention_hours": 48,
			"scheduled_ticks": [{"cron": "0 3 * * *", "branch": "main"}]
		}`)
		var config Configuration

		// act
		err := json.Unmarshal(jsonInput, &config)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, []string{"main", "release"}, config.ProtectedBranches)
		assert.Equal(t, int64(4), config.MaxConcurrentRuns)
		assert.Equal(t, 2500*time.Millisecond, time.Duration(config.CancelPollSeconds))
		assert.Equal(t, 48*time.Hour, time.Duration(config.CacheRetentionHours))
		assert.Equal(t, "0 3 * * *", config.ScheduledTicks[0].Cron)
	})
}

func TestConfig_MarshalJSON(t *testing.T) {
	t.Run("success - marshal json works as expected", func(t *testing.T) {
		// arrange
		config := Configuration{
			CacheRetentionHours: NewHoursDuration(24),
			CancelPollSeconds:   NewSecondsDuration(5),
			MaxConcurrentRuns:   5,
		}

		// act
		b, err := json.Marshal(config)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, string(b), `"cache_retention_hours":24`)
		assert.Contains(t, string(b), `"cancel_poll_seconds":5`)
		assert.Contains(t, string(b), `"max_concurrent_runs":5`)
	})
}

func TestConfig_DefaultConfiguration(t *testing.T) {
	t.Run("success - defaults protect main and admit pull request updates", func(t *testing.T) {
		// act
		config := DefaultConfiguration()

		// assert
		assert.Equal(t, []string{"main"}, config.ProtectedBranches)
		assert.Contains(t, config.PullRequestActions, "synchronize")
		assert.Contains(t, config.PullRequestActions, "opened")
		assert.Greater(t, config.MaxConcurrentRuns, int64(0))
	})
}
