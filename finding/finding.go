// Package finding defines the PII finding record produced by the external
// discovery subsystem. The removal engine references findings and spawns new
// ones on reappearance; it never mutates an existing finding.
package finding

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Finding represents a located PII record at a specific data broker.
type Finding struct {
	// ID is a unique identifier for the finding.
	ID string `json:"id"`

	// ProfileID identifies the user profile the record belongs to.
	ProfileID string `json:"profile_id"`

	// BrokerID identifies the broker hosting the record.
	BrokerID string `json:"broker_id"`

	// ListingURL is the URL of the listing at the broker.
	ListingURL string `json:"listing_url"`

	// DiscoveredAt is when the discovery subsystem located the record.
	DiscoveredAt time.Time `json:"discovered_at"`
}

// New creates a finding with a generated ID and the current discovery time.
func New(profileID, brokerID, listingURL string) Finding {
	return Finding{
		ID:           uuid.NewString(),
		ProfileID:    profileID,
		BrokerID:     brokerID,
		ListingURL:   listingURL,
		DiscoveredAt: time.Now().UTC(),
	}
}

// Validate checks that all required fields are present.
func (f Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding ID is required")
	}
	if f.ProfileID == "" {
		return fmt.Errorf("finding profile ID is required")
	}
	if f.BrokerID == "" {
		return fmt.Errorf("finding broker ID is required")
	}
	if f.ListingURL == "" {
		return fmt.Errorf("finding listing URL is required")
	}
	return nil
}
