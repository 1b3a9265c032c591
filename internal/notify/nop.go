package notify

import (
	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

// Nop discards every event. Useful where a notifier is required but no
// subscriber surface exists, such as batch tooling.
type Nop struct{}

func (Nop) CallUpdate(*call.Session)           {}
func (Nop) CampaignUpdate(campaign.ActiveView) {}
