package store

import (
	"context"
	"testing"
	"time"

	"github.com/acme/outdial/internal/call"
	"github.com/acme/outdial/internal/campaign"
)

func TestInMemoryStoreRecentCallsNewestFirst(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		err := s.SaveCall(ctx, &call.Session{
			ID:         id,
			CampaignID: "camp-1",
			From:       "+15550001111",
			To:         "+15550002222",
			Status:     call.StatusCompleted,
			StartedAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("SaveCall failed: %v", err)
		}
	}

	got, err := s.RecentCalls(ctx, "camp-1", 2)
	if err != nil {
		t.Fatalf("RecentCalls failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c3" || got[1].ID != "c2" {
		t.Fatalf("RecentCalls = %+v, want c3 then c2", got)
	}

	if got, _ := s.RecentCalls(ctx, "camp-missing", 5); got != nil {
		t.Fatalf("RecentCalls for unknown campaign = %+v, want nil", got)
	}
}

func TestInMemoryStoreCampaignUpsertAndLoad(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	c := &campaign.Campaign{ID: "camp-1", Name: "n", Status: campaign.StatusRunning}
	if err := s.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}
	c.Status = campaign.StatusPaused
	if err := s.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("SaveCampaign upsert failed: %v", err)
	}

	done := &campaign.Campaign{ID: "camp-2", Name: "done", Status: campaign.StatusCompleted}
	if err := s.SaveCampaign(ctx, done); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	got, err := s.LoadCampaigns(ctx)
	if err != nil {
		t.Fatalf("LoadCampaigns failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "camp-1" || got[0].Status != campaign.StatusPaused {
		t.Fatalf("LoadCampaigns = %+v, want only camp-1 paused", got)
	}
}

func TestInMemoryStoreContactRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	ct := &campaign.Contact{ID: "ct-1", Phone: "+15550003333", Attempts: 2, LastOutcome: "busy"}
	if err := s.SaveContact(ctx, "camp-1", ct); err != nil {
		t.Fatalf("SaveContact failed: %v", err)
	}
	ct.Attempts = 3
	ct.Exhausted = true
	if err := s.SaveContact(ctx, "camp-1", ct); err != nil {
		t.Fatalf("SaveContact upsert failed: %v", err)
	}

	got, err := s.LoadContacts(ctx, "camp-1")
	if err != nil {
		t.Fatalf("LoadContacts failed: %v", err)
	}
	if len(got) != 1 || got[0].Attempts != 3 || !got[0].Exhausted {
		t.Fatalf("LoadContacts = %+v, want one exhausted contact with 3 attempts", got)
	}
}
