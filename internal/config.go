package internal

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/haatos/verify-ci/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(sd).Seconds())
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

// ScheduledTick fires a scheduled event for Branch on the Cron expression.
type ScheduledTick struct {
	Cron   string `json:"cron"`
	Branch string `json:"branch"`
}

type Configuration struct {
	ProtectedBranches   []string        `json:"protected_branches"`
	PullRequestActions  []string        `json:"pull_request_actions"`
	MaxConcurrentRuns   int64           `json:"max_concurrent_runs"`
	CancelPollSeconds   SecondsDuration `json:"cancel_poll_seconds"`
	CacheRetentionHours HoursDuration   `json:"cache_retention_hours"`
	RunRetentionHours   HoursDuration   `json:"run_retention_hours"`
	ScheduledTicks      []ScheduledTick `json:"scheduled_ticks"`
	RateLimitPerSecond  float64         `json:"rate_limit_per_second"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		ProtectedBranches:   []string{"main"},
		PullRequestActions:  []string{"opened", "synchronize", "reopened"},
		MaxConcurrentRuns:   3,
		CancelPollSeconds:   NewSecondsDuration(5),
		CacheRetentionHours: NewHoursDuration(14 * 24),
		RunRetentionHours:   NewHoursDuration(24),
		ScheduledTicks:      []ScheduledTick{{Cron: "0 6 * * 1", Branch: "main"}},
		RateLimitPerSecond:  10,
	}
}

func InitializeConfiguration() {
	Config = DefaultConfiguration()

	configFileExists, _ := util.PathExists(ConfigPath)
	if !configFileExists {
		if err := UpdateConfiguration(Config); err != nil {
			log.Fatal(err)
		}
		return
	}

	configBytes, err := os.ReadFile(ConfigPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := json.Unmarshal(configBytes, &Config); err != nil {
		log.Fatal(err)
	}
}

func UpdateConfiguration(config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}

	configFile, err := os.Create(ConfigPath)
	if err != nil {
		return err
	}
	defer configFile.Close()

	if _, err := configFile.Write(b); err != nil {
		return err
	}

	Config = config

	return nil
}
