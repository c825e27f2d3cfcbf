package handler

import (
	"encoding/json"
	"time"

	"cardgate/internal/instance"
)

// LineageEntryResponse is one lineage member on the wire.
type LineageEntryResponse struct {
	InstanceID    string          `json:"instance_id"`
	FormID        string          `json:"form_id"`
	Payload       json.RawMessage `json:"payload"`
	VersionNumber int             `json:"version_number"`
	IsCurrent     bool            `json:"is_current"`
	SupersededBy  *string         `json:"superseded_by,omitempty"`
	SupersededAt  *time.Time      `json:"superseded_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FromLineage converts the service lineage into its response shape.
func FromLineage(entries []instance.LineageEntry) []LineageEntryResponse {
	out := make([]LineageEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp := LineageEntryResponse{
			InstanceID:    entry.InstanceID.String(),
			FormID:        entry.FormID.String(),
			Payload:       entry.Payload,
			VersionNumber: entry.VersionNumber,
			IsCurrent:     entry.IsCurrent,
			SupersededAt:  entry.SupersededAt,
			CreatedAt:     entry.CreatedAt,
		}
		if entry.SupersededBy != nil {
			successor := entry.SupersededBy.String()
			resp.SupersededBy = &successor
		}
		out = append(out, resp)
	}
	return out
}
