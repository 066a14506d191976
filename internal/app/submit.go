package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"regdoc/api/internal/rbac"
	"regdoc/api/internal/store"
	"regdoc/api/internal/util"
)

// SubmitInput is the wire shape for a new change request.
type SubmitInput struct {
	Type              string          `json:"type"`
	ProjectID         string          `json:"projectId"`
	ItemID            *int64          `json:"itemId"`
	ParentItemID      *int64          `json:"parentItemId"`
	SubmitReason      string          `json:"submitReason"`
	PreviousRequestID string          `json:"previousRequestId"`
	Payload           json.RawMessage `json:"payload"`
}

// SubmitRequest validates target references and inserts a PENDING change
// request. No domain entity is touched until the request is approved.
func (s *Service) SubmitRequest(ctx context.Context, session Session, input SubmitInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	request, err := s.buildRequest(ctx, session, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertChangeRequest(ctx, request); err != nil {
		return nil, err
	}
	return requestJSON(request), nil
}

// Resubmit reopens a rejected request as a brand-new PENDING submission
// linked back via previousRequestId. The rejected original transitions to
// RESUBMITTED in the same transaction so it cannot be resubmitted twice.
func (s *Service) Resubmit(ctx context.Context, session Session, previousRequestID string, input SubmitInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionSubmit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	input.PreviousRequestID = previousRequestID
	request, err := s.buildRequest(ctx, session, input)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		ok, err := tx.MarkRequestResubmitted(ctx, previousRequestID)
		if err != nil {
			return err
		}
		if !ok {
			return domainError(http.StatusConflict, "INVALID_STATE", "Only rejected requests can be resubmitted", nil)
		}
		return tx.InsertChangeRequest(ctx, request)
	})
	if err != nil {
		return nil, err
	}
	return requestJSON(request), nil
}

// Cancel hard-deletes a REJECTED request. Only the original submitter or an
// admin may do this; no item state is affected.
func (s *Service) Cancel(ctx context.Context, session Session, requestID string) error {
	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != store.StatusRejected {
		return domainError(http.StatusConflict, "INVALID_STATE", "Only rejected requests can be deleted", nil)
	}
	if request.SubmittedBy != session.UserID && rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the submitter or an admin can delete this request", nil)
	}
	return s.store.DeleteChangeRequest(ctx, requestID)
}

// buildRequest validates the target references and payload for a submission
// and returns the row to insert. previousRequestId is stored as supplied;
// whether it points at a REJECTED request of the same submitter is not
// checked here.
func (s *Service) buildRequest(ctx context.Context, session Session, input SubmitInput) (store.ChangeRequest, error) {
	requestType := strings.TrimSpace(input.Type)
	payload := string(input.Payload)
	if payload == "" {
		payload = "{}"
	}

	if _, err := s.store.GetProject(ctx, input.ProjectID); err != nil {
		return store.ChangeRequest{}, err
	}

	switch requestType {
	case store.RequestCreate:
		if _, err := decodeCreatePayload(payload); err != nil {
			return store.ChangeRequest{}, err
		}
		if input.ParentItemID != nil {
			parent, err := s.store.GetItem(ctx, *input.ParentItemID)
			if err != nil {
				return store.ChangeRequest{}, err
			}
			if parent.ProjectID != input.ProjectID {
				return store.ChangeRequest{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "parent item belongs to another project", nil)
			}
		}
	case store.RequestUpdate:
		if input.ItemID == nil {
			return store.ChangeRequest{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "itemId is required", nil)
		}
		if _, err := decodeUpdatePayload(payload); err != nil {
			return store.ChangeRequest{}, err
		}
		if _, err := s.store.GetItem(ctx, *input.ItemID); err != nil {
			return store.ChangeRequest{}, err
		}
	case store.RequestDelete:
		if input.ItemID == nil {
			return store.ChangeRequest{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "itemId is required", nil)
		}
		if _, err := s.store.GetItem(ctx, *input.ItemID); err != nil {
			return store.ChangeRequest{}, err
		}
		children, err := s.store.CountActiveChildren(ctx, *input.ItemID)
		if err != nil {
			return store.ChangeRequest{}, err
		}
		if children > 0 {
			return store.ChangeRequest{}, domainError(http.StatusConflict, "HAS_CHILDREN", "Cannot delete an item with active children", nil)
		}
	case store.RequestProjectUpdate:
		if _, err := decodeProjectUpdatePayload(payload); err != nil {
			return store.ChangeRequest{}, err
		}
	case store.RequestProjectDelete:
		// Target validation happens again at approval; the project existing
		// is enough here.
	default:
		return store.ChangeRequest{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request type", nil)
	}

	request := store.ChangeRequest{
		ID:              util.NewID("chr"),
		Type:            requestType,
		Status:          store.StatusPending,
		Data:            payload,
		ProjectID:       input.ProjectID,
		SubmittedBy:     session.UserID,
		SubmittedByName: session.UserName,
		SubmitReason:    strings.TrimSpace(input.SubmitReason),
	}
	if requestType == store.RequestCreate {
		request.ParentItemID = input.ParentItemID
	}
	if requestType == store.RequestUpdate || requestType == store.RequestDelete {
		request.ItemID = input.ItemID
	}
	if previous := strings.TrimSpace(input.PreviousRequestID); previous != "" {
		request.PreviousRequestID = &previous
	}
	return request, nil
}
