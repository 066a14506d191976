package app

import (
	"context"
	"testing"

	"regdoc/api/internal/store"
)

func seedApproval(m *memStore, approvalID, submittedBy, status string) {
	m.nextHist++
	m.history[m.nextHist] = store.ItemHistory{
		ID:          m.nextHist,
		ItemID:      1,
		Version:     1,
		ChangeType:  store.ChangeCreate,
		Snapshot:    `{"title":"Spec"}`,
		SubmittedBy: submittedBy,
		ItemFullID:  "DOC-1",
		ItemTitle:   "Spec",
		ProjectID:   "prj_1",
	}
	m.approvals[approvalID] = store.QCDocumentApproval{
		ID:        approvalID,
		HistoryID: m.nextHist,
		Status:    status,
	}
}

func TestSignDocumentAdvancesThroughBothStages(t *testing.T) {
	m := newMemStore()
	seedApproval(m, "qca_1", editorSession.UserID, store.QCPendingQC)
	svc := newTestService(m)

	payload, err := svc.SignDocument(context.Background(), inspectorSession, "qca_1", "checked")
	if err != nil {
		t.Fatalf("QC sign error = %v", err)
	}
	if payload["status"] != store.QCPendingPM {
		t.Fatalf("expected PENDING_PM after QC sign, got %v", payload["status"])
	}
	if m.approvals["qca_1"].QCReviewedBy != inspectorSession.UserID {
		t.Fatalf("expected QC reviewer to be recorded")
	}

	payload, err = svc.SignDocument(context.Background(), adminSession, "qca_1", "")
	if err != nil {
		t.Fatalf("PM sign error = %v", err)
	}
	if payload["status"] != store.QCApproved {
		t.Fatalf("expected APPROVED after PM sign, got %v", payload["status"])
	}
	if m.approvals["qca_1"].PMNote != "Approved" {
		t.Fatalf("expected blank note to default, got %q", m.approvals["qca_1"].PMNote)
	}

	_, err = svc.SignDocument(context.Background(), inspectorSession, "qca_1", "")
	wantDomainErr(t, err, "INVALID_STATE")
}

func TestSignDocumentBlocksSubmitterSelfSign(t *testing.T) {
	m := newMemStore()
	seedApproval(m, "qca_1", inspectorSession.UserID, store.QCPendingQC)
	svc := newTestService(m)

	_, err := svc.SignDocument(context.Background(), inspectorSession, "qca_1", "")
	wantDomainErr(t, err, "SELF_APPROVAL_FORBIDDEN")
}

func TestSignDocumentRequiresReviewRole(t *testing.T) {
	m := newMemStore()
	seedApproval(m, "qca_1", editorSession.UserID, store.QCPendingQC)
	svc := newTestService(m)

	_, err := svc.SignDocument(context.Background(), editorSession, "qca_1", "")
	wantDomainErr(t, err, "FORBIDDEN")
}

func TestRevisionLoopResumesAtBranchStage(t *testing.T) {
	m := newMemStore()
	seedApproval(m, "qca_1", editorSession.UserID, store.QCPendingPM)
	svc := newTestService(m)

	_, err := svc.RequestDocumentRevision(context.Background(), inspectorSession, "qca_1", "")
	wantDomainErr(t, err, "VALIDATION_ERROR")

	payload, err := svc.RequestDocumentRevision(context.Background(), inspectorSession, "qca_1", "margin table is stale")
	if err != nil {
		t.Fatalf("RequestDocumentRevision() error = %v", err)
	}
	if payload["status"] != store.QCRevisionRequested {
		t.Fatalf("expected REVISION_REQUESTED, got %v", payload["status"])
	}
	if payload["revisionCount"] != 1 {
		t.Fatalf("expected revision count 1, got %v", payload["revisionCount"])
	}
	if len(m.revisions) != 1 || m.revisions[0].Stage != store.QCPendingPM {
		t.Fatalf("expected a logged revision request at PENDING_PM, got %v", m.revisions)
	}

	// Signing is impossible while the revision is open.
	_, err = svc.SignDocument(context.Background(), inspectorSession, "qca_1", "")
	wantDomainErr(t, err, "INVALID_STATE")

	payload, err = svc.ResolveDocumentRevision(context.Background(), inspectorSession, "qca_1")
	if err != nil {
		t.Fatalf("ResolveDocumentRevision() error = %v", err)
	}
	if payload["status"] != store.QCPendingPM {
		t.Fatalf("expected resolution to return to PENDING_PM, got %v", payload["status"])
	}
	if m.revisions[0].ResolvedAt == nil {
		t.Fatalf("expected the open revision request to be resolved")
	}

	_, err = svc.ResolveDocumentRevision(context.Background(), inspectorSession, "qca_1")
	wantDomainErr(t, err, "INVALID_STATE")
}

func TestGetDocumentApprovalIncludesHistoryAndRevisions(t *testing.T) {
	m := newMemStore()
	seedApproval(m, "qca_1", editorSession.UserID, store.QCPendingQC)
	svc := newTestService(m)

	if _, err := svc.RequestDocumentRevision(context.Background(), inspectorSession, "qca_1", "retake photos"); err != nil {
		t.Fatalf("RequestDocumentRevision() error = %v", err)
	}

	payload, err := svc.GetDocumentApproval(context.Background(), "qca_1")
	if err != nil {
		t.Fatalf("GetDocumentApproval() error = %v", err)
	}
	history, ok := payload["history"].(map[string]any)
	if !ok {
		t.Fatalf("expected embedded history row, got %T", payload["history"])
	}
	if history["itemFullId"] != "DOC-1" {
		t.Fatalf("expected history for DOC-1, got %v", history["itemFullId"])
	}
	revisions, ok := payload["revisionRequests"].([]map[string]any)
	if !ok || len(revisions) != 1 {
		t.Fatalf("expected one revision request, got %v", payload["revisionRequests"])
	}
}
