package incidents

import (
	"strings"

	"incident-registry/core/store"
)

// prepareContent normalizes content and rejects what cannot be stored.
func prepareContent(content store.IncidentContent) (store.IncidentContent, error) {
	c := store.NormalizeIncidentContent(content)
	if c.AffectedSubjects < 0 {
		return c, invalidContent("affected subject count must not be negative")
	}
	if c.DetectedAt != nil && c.ResolvedAt != nil && c.ResolvedAt.Before(*c.DetectedAt) {
		return c, invalidContent("resolution date precedes detection date")
	}
	if c.RegulatorNotifiedAt != nil && !c.RegulatorNotified {
		return c, invalidContent("regulator notification date without notification")
	}
	if c.SubjectsNotifiedAt != nil && !c.SubjectsNotified {
		return c, invalidContent("subject notification date without notification")
	}
	return c, nil
}

func requireIdentity(organizationID, actor string) error {
	if strings.TrimSpace(organizationID) == "" {
		return invalidContent("organization id is required")
	}
	if strings.TrimSpace(actor) == "" {
		return invalidContent("actor id is required")
	}
	return nil
}
