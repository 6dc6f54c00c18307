package campaign

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"crowdfund/core/amount"
)

const (
	MaxNameLength        = 80
	MaxDescriptionLength = 500
	// MinCampaignDuration is how far in the future a new deadline must lie.
	MinCampaignDuration = 24 * time.Hour
)

// ErrInvalidDraft reports a campaign proposal that fails local validation.
var ErrInvalidDraft = errors.New("campaign: invalid draft")

// Draft is a validated proposal for a new campaign, ready to submit to the factory.
type Draft struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Goal        amount.Amount `json:"goal"`
	Deadline    int64         `json:"deadline"`
}

// NewDraft validates the proposal fields. The goal is parsed with the amount
// codec and must be positive; the deadline must be at least a day after now.
func NewDraft(name, description, goal string, deadline, now time.Time) (Draft, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return Draft{}, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDraft, MaxNameLength)
	}
	if description == "" || utf8.RuneCountInString(description) > MaxDescriptionLength {
		return Draft{}, fmt.Errorf("%w: description must be 1-%d characters", ErrInvalidDraft, MaxDescriptionLength)
	}
	goalAmount, err := amount.Parse(goal)
	if err != nil {
		return Draft{}, err
	}
	if goalAmount.IsZero() {
		return Draft{}, fmt.Errorf("%w: goal must be positive", amount.ErrInvalidAmount)
	}
	if deadline.Before(now.Add(MinCampaignDuration)) {
		return Draft{}, fmt.Errorf("%w: deadline must be at least %s after now", ErrInvalidDraft, MinCampaignDuration)
	}
	return Draft{
		Name:        name,
		Description: description,
		Goal:        goalAmount,
		Deadline:    deadline.Unix(),
	}, nil
}
