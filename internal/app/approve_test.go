package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"regdoc/api/internal/notify"
	"regdoc/api/internal/snapshot"
	"regdoc/api/internal/store"
)

func submitRequest(t *testing.T, svc *Service, session Session, input SubmitInput) string {
	t.Helper()
	payload, err := svc.SubmitRequest(context.Background(), session, input)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	return payload["id"].(string)
}

func singleItem(t *testing.T, m *memStore) store.Item {
	t.Helper()
	if len(m.items) != 1 {
		t.Fatalf("expected exactly one item, got %d", len(m.items))
	}
	for _, item := range m.items {
		return item
	}
	return store.Item{}
}

func singleHistory(t *testing.T, m *memStore) store.ItemHistory {
	t.Helper()
	if len(m.history) != 1 {
		t.Fatalf("expected exactly one history row, got %d", len(m.history))
	}
	for _, row := range m.history {
		return row
	}
	return store.ItemHistory{}
}

func TestApproveCreateAssignsRootFullID(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:         store.RequestCreate,
		ProjectID:    "prj_1",
		SubmitReason: "initial spec",
		Payload:      []byte(`{"title":"Spec","content":"Body"}`),
	})

	payload, err := svc.Approve(context.Background(), inspectorSession, requestID, "")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if payload["status"] != store.StatusApproved {
		t.Fatalf("expected status APPROVED, got %v", payload["status"])
	}

	item := singleItem(t, m)
	if item.FullID != "DOC-1" {
		t.Fatalf("expected fullId DOC-1, got %s", item.FullID)
	}
	if item.CurrentVersion != 1 {
		t.Fatalf("expected version 1, got %d", item.CurrentVersion)
	}

	row := singleHistory(t, m)
	if row.ChangeType != store.ChangeCreate {
		t.Fatalf("expected change type CREATE, got %s", row.ChangeType)
	}
	if row.Version != 1 {
		t.Fatalf("expected history version 1, got %d", row.Version)
	}
	if row.Diff != nil {
		t.Fatalf("expected nil diff for CREATE, got %s", *row.Diff)
	}
	if row.SubmittedBy != editorSession.UserID || row.ReviewedBy != inspectorSession.UserID {
		t.Fatalf("expected denormalized reviewer pair, got %s/%s", row.SubmittedBy, row.ReviewedBy)
	}

	approval, err := m.GetQCApprovalByHistory(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("expected a QC approval for the history row: %v", err)
	}
	if approval.Status != store.QCPendingQC {
		t.Fatalf("expected QC approval to start PENDING_QC, got %s", approval.Status)
	}
}

func TestApproveCreateChildDerivesFullIDFromParent(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	parent := seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:         store.RequestCreate,
		ProjectID:    "prj_1",
		ParentItemID: &parent.ID,
		Payload:      []byte(`{"title":"Child"}`),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	var child store.Item
	for _, item := range m.items {
		if item.ID != parent.ID {
			child = item
		}
	}
	if child.FullID != "DOC-1.1" {
		t.Fatalf("expected child fullId DOC-1.1, got %s", child.FullID)
	}
	if child.ParentID == nil || *child.ParentID != parent.ID {
		t.Fatalf("expected parentId %d, got %v", parent.ID, child.ParentID)
	}
}

func TestApproveCreateAllocatesSeqUnderProjectLock(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	retired := seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	gone := m.items[retired.ID]
	gone.IsDeleted = true
	m.items[retired.ID] = gone
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	// The project row must be locked before MAX(seq) is read, otherwise two
	// racing approvals could allocate the same number.
	if m.projectLocks != 1 {
		t.Fatalf("expected one project row lock during seq allocation, got %d", m.projectLocks)
	}

	var created store.Item
	for _, item := range m.items {
		if !item.IsDeleted {
			created = item
		}
	}
	if created.FullID != "DOC-2" {
		t.Fatalf("expected the soft-deleted sibling's number to stay retired, got %s", created.FullID)
	}
}

func TestApproveCreateNotificationNamesNewItem(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)
	svc.notifier = notify.NewService(m, nil, "")

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	notices, err := m.ListNotifications(context.Background(), editorSession.UserID, 0)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(notices) != 1 {
		t.Fatalf("expected one notification for the submitter, got %d", len(notices))
	}
	// A CREATE request has no itemId, so the subject has to come from the
	// ledger entry, not fall back to the project code.
	if !strings.Contains(notices[0].Message, "DOC-1") {
		t.Fatalf("expected the notification to name the new item DOC-1, got %q", notices[0].Message)
	}
}

func TestApproveUpdateIncrementsVersionAndDiffsChangedFields(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	item := seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	svc := newTestService(m)

	payload := fmt.Sprintf(`{"title":%q,"content":"Revised body"}`, item.Title)
	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestUpdate,
		ProjectID: "prj_1",
		ItemID:    &item.ID,
		Payload:   []byte(payload),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, "looks good"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	updated := m.items[item.ID]
	if updated.CurrentVersion != 2 {
		t.Fatalf("expected version 2, got %d", updated.CurrentVersion)
	}
	if updated.Content != "Revised body" {
		t.Fatalf("expected content to be replaced, got %q", updated.Content)
	}

	row := singleHistory(t, m)
	if row.Version != 2 {
		t.Fatalf("expected history version 2, got %d", row.Version)
	}
	if row.Diff == nil {
		t.Fatalf("expected a diff for UPDATE")
	}
	var diff map[string]snapshot.FieldChange
	if err := json.Unmarshal([]byte(*row.Diff), &diff); err != nil {
		t.Fatalf("diff does not parse: %v", err)
	}
	if len(diff) != 1 {
		t.Fatalf("expected only the content field to differ, got %v", diff)
	}
	change, ok := diff["content"]
	if !ok {
		t.Fatalf("expected a content entry in the diff, got %v", diff)
	}
	if change.Old != "Body of DOC-1" || change.New != "Revised body" {
		t.Fatalf("unexpected content change %v", change)
	}
	if row.ReviewNote != "looks good" {
		t.Fatalf("expected review note to be recorded, got %q", row.ReviewNote)
	}
}

func TestApproveUpdateReplacesRelationEdges(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	a := seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	b := seedItem(m, "prj_1", "DOC-2", nil, 2, 1)
	m.edges = append(m.edges,
		relationEdge{source: a.ID, target: b.ID, description: "depends on"},
		relationEdge{source: b.ID, target: a.ID, description: "depends on"},
	)
	svc := newTestService(m)

	payload := fmt.Sprintf(`{"title":%q,"content":%q,"relatedItems":[]}`, a.Title, a.Content)
	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestUpdate,
		ProjectID: "prj_1",
		ItemID:    &a.ID,
		Payload:   []byte(payload),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if len(m.edges) != 0 {
		t.Fatalf("expected all edges touching the item to be removed, got %d", len(m.edges))
	}
	row := singleHistory(t, m)
	if row.Diff == nil {
		t.Fatalf("expected a diff recording the removed relations")
	}
	var diff map[string]snapshot.FieldChange
	if err := json.Unmarshal([]byte(*row.Diff), &diff); err != nil {
		t.Fatalf("diff does not parse: %v", err)
	}
	if _, ok := diff["relatedItems"]; !ok {
		t.Fatalf("expected relatedItems in the diff, got %v", diff)
	}
}

func TestApproveTwiceFails(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("first Approve() error = %v", err)
	}

	_, err := svc.Approve(context.Background(), inspectorSession, requestID, "")
	wantDomainErr(t, err, "NOT_FOUND")

	if len(m.history) != 1 {
		t.Fatalf("expected exactly one history row after a double approve, got %d", len(m.history))
	}
	if len(m.items) != 1 {
		t.Fatalf("expected exactly one item after a double approve, got %d", len(m.items))
	}
}

func TestSelfApprovalForbiddenForInspectors(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, inspectorSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	_, err := svc.Approve(context.Background(), inspectorSession, requestID, "")
	wantDomainErr(t, err, "SELF_APPROVAL_FORBIDDEN")

	if m.requests[requestID].Status != store.StatusPending {
		t.Fatalf("expected request to stay PENDING, got %s", m.requests[requestID].Status)
	}
}

func TestAdminMayApproveOwnRequest(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, adminSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	if _, err := svc.Approve(context.Background(), adminSession, requestID, ""); err != nil {
		t.Fatalf("Approve() by admin of own request error = %v", err)
	}
}

func TestRejectOwnRequestAllowed(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, inspectorSession, SubmitInput{
		Type:      store.RequestCreate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Spec"}`),
	})
	payload, err := svc.Reject(context.Background(), inspectorSession, requestID, "withdrawing")
	if err != nil {
		t.Fatalf("Reject() of own request error = %v", err)
	}
	if payload["status"] != store.StatusRejected {
		t.Fatalf("expected status REJECTED, got %v", payload["status"])
	}
	if len(m.history) != 0 {
		t.Fatalf("rejection must not touch the ledger, got %d rows", len(m.history))
	}
}

func TestApproveDeleteRechecksChildren(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	parent := seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestDelete,
		ProjectID: "prj_1",
		ItemID:    &parent.ID,
	})

	// A child appears between submission and approval.
	seedItem(m, "prj_1", "DOC-1.1", &parent.ID, 1, 1)

	_, err := svc.Approve(context.Background(), inspectorSession, requestID, "")
	wantDomainErr(t, err, "HAS_CHILDREN")

	if m.items[parent.ID].IsDeleted {
		t.Fatalf("expected item to survive a blocked delete")
	}
	if m.requests[requestID].Status != store.StatusPending {
		t.Fatalf("expected request to stay PENDING, got %s", m.requests[requestID].Status)
	}
	if len(m.history) != 0 {
		t.Fatalf("expected no history row for a blocked delete, got %d", len(m.history))
	}
}

func TestApproveDeleteSoftDeletesAndBumpsVersion(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	item := seedItem(m, "prj_1", "DOC-1", nil, 1, 3)
	other := seedItem(m, "prj_1", "DOC-2", nil, 2, 1)
	m.edges = append(m.edges,
		relationEdge{source: item.ID, target: other.ID},
		relationEdge{source: other.ID, target: item.ID},
	)
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestDelete,
		ProjectID: "prj_1",
		ItemID:    &item.ID,
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	deleted := m.items[item.ID]
	if !deleted.IsDeleted {
		t.Fatalf("expected item to be soft-deleted")
	}
	if deleted.CurrentVersion != 4 {
		t.Fatalf("expected version bump to 4, got %d", deleted.CurrentVersion)
	}
	if len(m.edges) != 0 {
		t.Fatalf("expected relation edges to be removed, got %d", len(m.edges))
	}

	row := singleHistory(t, m)
	if row.ChangeType != store.ChangeDelete || row.Version != 4 {
		t.Fatalf("expected DELETE history at version 4, got %s v%d", row.ChangeType, row.Version)
	}
	// The snapshot must capture the state before the relations were removed.
	snap, err := snapshot.Decode(row.Snapshot)
	if err != nil {
		t.Fatalf("snapshot does not parse: %v", err)
	}
	if len(snap.RelatedItems) != 1 {
		t.Fatalf("expected the pre-delete relation in the snapshot, got %v", snap.RelatedItems)
	}
}

func TestApproveProjectUpdateWritesFieldsWithoutHistory(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestProjectUpdate,
		ProjectID: "prj_1",
		Payload:   []byte(`{"title":"Renamed","description":"New scope"}`),
	})
	if _, err := svc.Approve(context.Background(), inspectorSession, requestID, ""); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	project := m.projects["prj_1"]
	if project.Title != "Renamed" || project.Description != "New scope" {
		t.Fatalf("expected project fields to be replaced, got %q/%q", project.Title, project.Description)
	}
	if len(m.history) != 0 {
		t.Fatalf("project updates must not produce history rows, got %d", len(m.history))
	}
}

func TestApproveProjectDeleteRequiresAdmin(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestProjectDelete,
		ProjectID: "prj_1",
	})
	_, err := svc.Approve(context.Background(), inspectorSession, requestID, "")
	wantDomainErr(t, err, "FORBIDDEN")

	if _, ok := m.projects["prj_1"]; !ok {
		t.Fatalf("expected project to survive")
	}
}

func TestApproveProjectDeleteBlockedByItems(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	seedItem(m, "prj_1", "DOC-1", nil, 1, 1)
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestProjectDelete,
		ProjectID: "prj_1",
	})
	_, err := svc.Approve(context.Background(), adminSession, requestID, "")
	wantDomainErr(t, err, "PROJECT_HAS_ITEMS")

	if _, ok := m.projects["prj_1"]; !ok {
		t.Fatalf("expected project to survive")
	}
	if m.requests[requestID].Status != store.StatusPending {
		t.Fatalf("expected request to stay PENDING after rollback, got %s", m.requests[requestID].Status)
	}
}

func TestApproveProjectDeleteRemovesEmptyProject(t *testing.T) {
	m := newMemStore()
	seedProject(m, "prj_1", "DOC")
	svc := newTestService(m)

	requestID := submitRequest(t, svc, editorSession, SubmitInput{
		Type:      store.RequestProjectDelete,
		ProjectID: "prj_1",
	})
	payload, err := svc.Approve(context.Background(), adminSession, requestID, "")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if payload["status"] != store.StatusApproved {
		t.Fatalf("expected APPROVED response, got %v", payload["status"])
	}
	if _, ok := m.projects["prj_1"]; ok {
		t.Fatalf("expected project to be deleted")
	}
	// The project's requests cascade away with it.
	if len(m.requests) != 0 {
		t.Fatalf("expected requests to cascade, got %d", len(m.requests))
	}
}
