package app

import (
	"encoding/json"
	"net/http"
	"strings"
)

// RelatedItemInput is one proposed relation to an existing item.
type RelatedItemInput struct {
	ItemID      int64  `json:"itemId"`
	Description string `json:"description"`
}

// CreatePayload carries the proposed fields for a CREATE request.
type CreatePayload struct {
	Title        string             `json:"title"`
	Content      string             `json:"content"`
	Attachments  []string           `json:"attachments"`
	RelatedItems []RelatedItemInput `json:"relatedItems"`
}

// UpdatePayload carries the proposed fields for an UPDATE request. A nil
// RelatedItems means the relation set stays untouched; a present list,
// including an empty one, replaces every existing edge.
type UpdatePayload struct {
	Title        string              `json:"title"`
	Content      string              `json:"content"`
	Attachments  []string            `json:"attachments"`
	RelatedItems *[]RelatedItemInput `json:"relatedItems"`
}

// ProjectUpdatePayload carries the proposed fields for a PROJECT_UPDATE
// request.
type ProjectUpdatePayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// The change request data column is a tagged union keyed by the request type.
// Payloads are parsed exactly once, here, and only the typed form travels
// further into the engine.

func decodeCreatePayload(data string) (CreatePayload, error) {
	var p CreatePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return CreatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed CREATE payload", nil)
	}
	if strings.TrimSpace(p.Title) == "" {
		return CreatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return p, nil
}

func decodeUpdatePayload(data string) (UpdatePayload, error) {
	var p UpdatePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return UpdatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed UPDATE payload", nil)
	}
	if strings.TrimSpace(p.Title) == "" {
		return UpdatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return p, nil
}

func decodeProjectUpdatePayload(data string) (ProjectUpdatePayload, error) {
	var p ProjectUpdatePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return ProjectUpdatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "malformed PROJECT_UPDATE payload", nil)
	}
	if strings.TrimSpace(p.Title) == "" {
		return ProjectUpdatePayload{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return p, nil
}

// attachmentsJSON serializes an attachment list for item storage. Items store
// attachments as an opaque serialized list, never as relational rows.
func attachmentsJSON(attachments []string) string {
	if len(attachments) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
