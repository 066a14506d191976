package app

import (
	"context"
	"net/http"
	"strings"

	"regdoc/api/internal/rbac"
	"regdoc/api/internal/store"
)

// The QC document workflow is a second, smaller state machine hanging off
// each ledger row: PENDING_QC, then PENDING_PM, then APPROVED, with a
// revision-request side loop from either signing stage. Its lifecycle is
// independent of the change request that spawned it.

// SignDocument advances a document approval one stage. The stage decides who
// is signing: QC at PENDING_QC, PM at PENDING_PM. Each transition is a
// compare-and-swap on the current status, mirroring the approval engine's
// discipline, and the same self-sign rule applies: the submitter of the
// underlying change cannot sign unless they are an admin.
func (s *Service) SignDocument(ctx context.Context, session Session, approvalID, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	approval, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.GetItemHistory(ctx, approval.HistoryID)
	if err != nil {
		return nil, err
	}
	if history.SubmittedBy == session.UserID && !rbac.CanSelfApprove(rbac.Normalize(session.Role)) {
		return nil, domainError(http.StatusForbidden, "SELF_APPROVAL_FORBIDDEN", "You cannot sign off your own change", nil)
	}

	if strings.TrimSpace(note) == "" {
		note = defaultApproveNote
	}

	var ok bool
	var nextStage string
	switch approval.Status {
	case store.QCPendingQC:
		ok, err = s.store.MarkQCSigned(ctx, approvalID, session.UserID, session.UserName, note)
		nextStage = store.QCPendingPM
	case store.QCPendingPM:
		ok, err = s.store.MarkPMSigned(ctx, approvalID, session.UserID, session.UserName, note)
		nextStage = store.QCApproved
	default:
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Document is not awaiting a signature", nil)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Document is not awaiting a signature", nil)
	}

	if s.notifier != nil {
		s.notifier.DocumentStageChanged(context.Background(), history.SubmittedBy, history.ItemFullID, nextStage, approvalID)
	}

	updated, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return qcApprovalJSON(updated), nil
}

// RequestDocumentRevision parks a signing stage in REVISION_REQUESTED,
// increments the revision counter and logs a dated revision request. The
// stage it branched from is remembered so resolution can return there.
func (s *Service) RequestDocumentRevision(ctx context.Context, session Session, approvalID, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "note is required", nil)
	}

	approval, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status != store.QCPendingQC && approval.Status != store.QCPendingPM {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Revisions can only be requested at a signing stage", nil)
	}

	ok, err := s.store.MarkRevisionRequested(ctx, approvalID, approval.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Revisions can only be requested at a signing stage", nil)
	}

	if err := s.store.InsertQCRevisionRequest(ctx, store.QCRevisionRequest{
		ApprovalID:      approvalID,
		Stage:           approval.Status,
		RequestedBy:     session.UserID,
		RequestedByName: session.UserName,
		Note:            note,
	}); err != nil {
		return nil, err
	}

	updated, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return qcApprovalJSON(updated), nil
}

// ResolveDocumentRevision closes the open revision loop and returns the
// approval to the stage the revision branched from.
func (s *Service) ResolveDocumentRevision(ctx context.Context, session Session, approvalID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	ok, err := s.store.MarkRevisionResolved(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "No revision is in progress", nil)
	}
	if err := s.store.ResolveOpenRevisionRequests(ctx, approvalID); err != nil {
		return nil, err
	}

	updated, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	return qcApprovalJSON(updated), nil
}

// ListDocumentApprovals returns document approvals, optionally filtered by
// status.
func (s *Service) ListDocumentApprovals(ctx context.Context, status string, limit int) ([]map[string]any, error) {
	approvals, err := s.store.ListQCApprovals(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(approvals))
	for _, approval := range approvals {
		items = append(items, qcApprovalJSON(approval))
	}
	return items, nil
}

// GetDocumentApproval returns one approval with its revision-request log and
// the history row it signs off.
func (s *Service) GetDocumentApproval(ctx context.Context, approvalID string) (map[string]any, error) {
	approval, err := s.store.GetQCApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	history, err := s.store.GetItemHistory(ctx, approval.HistoryID)
	if err != nil {
		return nil, err
	}
	revisions, err := s.store.ListQCRevisionRequests(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	payload := qcApprovalJSON(approval)
	payload["history"] = historyJSON(history)
	revisionsJSON := make([]map[string]any, 0, len(revisions))
	for _, revision := range revisions {
		revisionsJSON = append(revisionsJSON, revisionRequestJSON(revision))
	}
	payload["revisionRequests"] = revisionsJSON
	return payload, nil
}
