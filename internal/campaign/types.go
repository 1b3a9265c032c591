package campaign

import (
	"time"
)

// Status tracks a campaign through its control lifecycle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusPausing   Status = "pausing"
	StatusPaused    Status = "paused"
	StatusResuming  Status = "resuming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Contact is one dialable entry in a campaign's queue.
type Contact struct {
	ID          string `json:"contact_id"`
	Phone       string `json:"phone"`
	Name        string `json:"name,omitempty"`
	Attempts    int    `json:"attempts"`
	LastOutcome string `json:"last_outcome,omitempty"`

	// Exhausted marks a contact the scheduler will never dial again:
	// answered successfully, failed terminally, or out of attempts.
	Exhausted bool `json:"exhausted,omitempty"`

	// outstanding marks a contact with a not-yet-terminated call; a contact
	// never has two calls in flight.
	outstanding bool
}

// Eligible reports whether the scheduler may dial this contact now.
func (c *Contact) Eligible(maxAttempts int) bool {
	return !c.outstanding && !c.Exhausted && c.Attempts < maxAttempts
}

// Stats aggregates call outcomes for one campaign.
type Stats struct {
	Placed      int     `json:"placed"`
	Completed   int     `json:"completed"`
	Answered    int     `json:"answered"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration_seconds"`

	totalAnswered time.Duration
}

func (s *Stats) recalc() {
	if s.Placed > 0 {
		s.SuccessRate = float64(s.Completed) / float64(s.Placed)
	}
	if s.Answered > 0 {
		s.AvgDuration = s.totalAnswered.Seconds() / float64(s.Answered)
	}
}

// Campaign is the durable definition plus live aggregate state.
type Campaign struct {
	ID               string        `json:"campaign_id"`
	Name             string        `json:"name"`
	Status           Status        `json:"status"`
	ErrorReason      string        `json:"error_reason,omitempty"`
	ConcurrencyLimit int           `json:"concurrency_limit"`
	PacingInterval   time.Duration `json:"pacing_interval"`
	MaxAttempts      int           `json:"max_attempts"`
	CreatedAt        time.Time     `json:"created_at"`
	Stats            Stats         `json:"stats"`
}

// ActiveView is the control surface's read model for one live campaign.
type ActiveView struct {
	CampaignID  string `json:"campaign_id"`
	Name        string `json:"name"`
	Status      Status `json:"status"`
	ActiveCalls int    `json:"active_calls"`
	Pending     int    `json:"pending_contacts"`
	Stats       Stats  `json:"stats"`
}
