package handler

import (
	"strings"

	"cardgate/internal/issuance"
	id "cardgate/pkg/domain"
	dErrors "cardgate/pkg/domain-errors"
)

// IssueRequest is the HTTP request body for POST /cards/issuances. Exactly one
// of recipient_member_id and invitee_locator must be set.
type IssueRequest struct {
	InstanceID        string `json:"instance_id"`
	RecipientMemberID string `json:"recipient_member_id,omitempty"`
	InviteeLocator    string `json:"invitee_locator,omitempty"`

	parsedInstanceID id.InstanceID
	parsedRecipient  issuance.RecipientRef
}

// Validate validates and parses the request.
func (r *IssueRequest) Validate() error {
	instanceID, err := id.ParseInstanceID(r.InstanceID)
	if err != nil {
		return dErrors.New(dErrors.CodeBadRequest, "instance_id must be a valid UUID")
	}
	r.parsedInstanceID = instanceID

	r.InviteeLocator = strings.TrimSpace(r.InviteeLocator)
	recipient := issuance.RecipientRef{InviteeLocator: r.InviteeLocator}
	if r.RecipientMemberID != "" {
		memberID, err := id.ParseMemberID(r.RecipientMemberID)
		if err != nil {
			return dErrors.New(dErrors.CodeBadRequest, "recipient_member_id must be a valid UUID")
		}
		recipient.MemberID = &memberID
	}
	if err := recipient.Validate(); err != nil {
		return err
	}
	r.parsedRecipient = recipient
	return nil
}

// ParsedInstanceID returns the validated instance ID.
func (r *IssueRequest) ParsedInstanceID() id.InstanceID {
	return r.parsedInstanceID
}

// ParsedRecipient returns the validated recipient reference.
func (r *IssueRequest) ParsedRecipient() issuance.RecipientRef {
	return r.parsedRecipient
}

// ResolveRequest is the HTTP request body for resolving an issuance.
type ResolveRequest struct {
	Resolution string `json:"resolution"`

	parsedResolution issuance.Status
}

// Validate validates and parses the request.
func (r *ResolveRequest) Validate() error {
	switch issuance.Status(r.Resolution) {
	case issuance.StatusAccepted, issuance.StatusRejected:
		r.parsedResolution = issuance.Status(r.Resolution)
		return nil
	}
	return dErrors.Newf(dErrors.CodeBadRequest, "resolution must be accepted or rejected, got %q", r.Resolution)
}

// ParsedResolution returns the validated resolution status.
func (r *ResolveRequest) ParsedResolution() issuance.Status {
	return r.parsedResolution
}
