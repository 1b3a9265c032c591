// Package store persists finished calls and campaign progress. A Postgres
// backend is used when a database URL is configured; an in-process store
// covers local and test runs.
package store

import (
	"context"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

// Store is the persistence surface. SaveCall records the final snapshot of
// a terminated call; campaign rows are upserted so progress survives a
// restart.
type Store interface {
	SaveCall(ctx context.Context, s *call.Session) error
	RecentCalls(ctx context.Context, campaignID string, limit int) ([]call.Session, error)

	SaveCampaign(ctx context.Context, c *campaign.Campaign) error
	SaveContact(ctx context.Context, campaignID string, ct *campaign.Contact) error
	LoadCampaigns(ctx context.Context) ([]*campaign.Campaign, error)
	LoadContacts(ctx context.Context, campaignID string) ([]*campaign.Contact, error)

	Close() error
}
