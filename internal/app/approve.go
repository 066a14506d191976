package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"regdoc/api/internal/docgen"
	"regdoc/api/internal/rbac"
	"regdoc/api/internal/search"
	"regdoc/api/internal/store"
)

const (
	defaultApproveNote = "Approved"
	defaultRejectNote  = "Rejected"
)

// approvalOutcome collects what the transaction produced so side effects can
// run after commit.
type approvalOutcome struct {
	request store.ChangeRequest
	project store.Project
	entry   *ledgerEntry
	deleted bool
}

// Approve applies a pending change request. Domain mutation, version bump and
// ledger append run in one transaction; the PENDING to APPROVED transition is
// a compare-and-swap, so a request concurrently resolved by another reviewer
// fails with NOT_FOUND instead of applying twice.
func (s *Service) Approve(ctx context.Context, session Session, requestID, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if note == "" {
		note = defaultApproveNote
	}

	var outcome approvalOutcome
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		request, err := tx.GetChangeRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request.Status != store.StatusPending {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Request is not pending", nil)
		}
		if request.SubmittedBy == session.UserID && !rbac.CanSelfApprove(rbac.Normalize(session.Role)) {
			return domainError(http.StatusForbidden, "SELF_APPROVAL_FORBIDDEN", "You cannot approve your own request", nil)
		}

		project, err := tx.GetProject(ctx, request.ProjectID)
		if err != nil {
			return err
		}
		outcome.project = project

		switch request.Type {
		case store.RequestCreate:
			outcome.entry, err = s.applyCreate(ctx, tx, request, project, session, note)
		case store.RequestUpdate:
			outcome.entry, err = s.applyUpdate(ctx, tx, request, session, note)
		case store.RequestDelete:
			outcome.entry, err = s.applyDelete(ctx, tx, request, session, note)
			outcome.deleted = true
		case store.RequestProjectUpdate:
			err = applyProjectUpdate(ctx, tx, request)
		case store.RequestProjectDelete:
			// Deleting the project cascades onto its change requests, so the
			// status transition has to land before the row disappears.
			return s.applyProjectDelete(ctx, tx, request, session, note, &outcome)
		default:
			err = domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request type", nil)
		}
		if err != nil {
			return err
		}

		ok, err := tx.MarkRequestApproved(ctx, requestID, session.UserID, session.UserName, note)
		if err != nil {
			return err
		}
		if !ok {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Request is not pending", nil)
		}

		outcome.request = reviewedCopy(request, store.StatusApproved, session, note)
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Request not found", nil)
		}
		return nil, err
	}

	s.afterApproval(outcome)
	return requestJSON(outcome.request), nil
}

// Reject marks a pending request REJECTED. Domain entities and the ledger are
// untouched. There is no self-rejection restriction: withdrawing your own
// request is done by rejecting it.
func (s *Service) Reject(ctx context.Context, session Session, requestID, note string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionReview) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if note == "" {
		note = defaultRejectNote
	}

	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.MarkRequestRejected(ctx, requestID, session.UserID, session.UserName, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Request is not pending", nil)
	}

	updated := reviewedCopy(request, store.StatusRejected, session, note)
	if s.notifier != nil {
		s.notifier.RequestReviewed(context.Background(), updated, s.requestSubject(context.Background(), updated))
	}
	return requestJSON(updated), nil
}

func (s *Service) applyCreate(ctx context.Context, tx store.Tx, request store.ChangeRequest, project store.Project, session Session, note string) (*ledgerEntry, error) {
	payload, err := decodeCreatePayload(request.Data)
	if err != nil {
		return nil, err
	}

	// Seq allocation reads MAX(seq) among siblings, so racing CREATE
	// approvals in the same project must serialize on the project row or
	// both would claim the same number and trip the full_id unique index.
	project, err = tx.GetProjectForUpdate(ctx, request.ProjectID)
	if err != nil {
		return nil, err
	}

	seq, err := tx.NextChildSeq(ctx, request.ProjectID, request.ParentItemID)
	if err != nil {
		return nil, err
	}
	fullID := project.Code + "-" + strconv.Itoa(seq)
	if request.ParentItemID != nil {
		parent, err := tx.GetItem(ctx, *request.ParentItemID)
		if err != nil {
			return nil, err
		}
		fullID = parent.FullID + "." + strconv.Itoa(seq)
	}

	item, err := tx.InsertItem(ctx, store.Item{
		FullID:         fullID,
		Title:          payload.Title,
		Content:        payload.Content,
		Attachments:    attachmentsJSON(payload.Attachments),
		ProjectID:      request.ProjectID,
		ParentID:       request.ParentItemID,
		Seq:            seq,
		CurrentVersion: 1,
	})
	if err != nil {
		return nil, err
	}

	if err := insertRelationPairs(ctx, tx, item.ID, payload.RelatedItems); err != nil {
		return nil, err
	}

	relations, err := tx.ListItemRelations(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	entry, err := recordHistory(ctx, tx, item, buildSnapshot(item, relations), store.ChangeCreate, nil, request, session, note)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) applyUpdate(ctx context.Context, tx store.Tx, request store.ChangeRequest, session Session, note string) (*ledgerEntry, error) {
	payload, err := decodeUpdatePayload(request.Data)
	if err != nil {
		return nil, err
	}

	// The row lock plus re-read is what keeps two racing UPDATE approvals
	// from claiming the same version number.
	item, err := tx.GetItemForUpdate(ctx, *request.ItemID)
	if err != nil {
		return nil, err
	}
	if item.IsDeleted {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Item has been deleted", nil)
	}

	oldRelations, err := tx.ListItemRelations(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	oldSnap := buildSnapshot(item, oldRelations)

	if err := tx.UpdateItemContent(ctx, item.ID, payload.Title, payload.Content, attachmentsJSON(payload.Attachments)); err != nil {
		return nil, err
	}

	// A present related-items list is a full replace of every edge touching
	// the item, never a merge.
	if payload.RelatedItems != nil {
		if err := tx.DeleteRelationsTouching(ctx, item.ID); err != nil {
			return nil, err
		}
		if err := insertRelationPairs(ctx, tx, item.ID, *payload.RelatedItems); err != nil {
			return nil, err
		}
	}

	updated, err := tx.GetItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	newRelations, err := tx.ListItemRelations(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	entry, err := recordHistory(ctx, tx, updated, buildSnapshot(updated, newRelations), store.ChangeUpdate, &oldSnap, request, session, note)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Service) applyDelete(ctx context.Context, tx store.Tx, request store.ChangeRequest, session Session, note string) (*ledgerEntry, error) {
	item, err := tx.GetItemForUpdate(ctx, *request.ItemID)
	if err != nil {
		return nil, err
	}
	if item.IsDeleted {
		return nil, domainError(http.StatusConflict, "INVALID_STATE", "Item has been deleted", nil)
	}

	// Children may have appeared between submission and approval; the guard
	// runs again here.
	children, err := tx.CountActiveChildren(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if children > 0 {
		return nil, domainError(http.StatusConflict, "HAS_CHILDREN", "Cannot delete an item with active children", nil)
	}

	relations, err := tx.ListItemRelations(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	snap := buildSnapshot(item, relations)

	if err := tx.DeleteRelationsTouching(ctx, item.ID); err != nil {
		return nil, err
	}
	if err := tx.SoftDeleteItem(ctx, item.ID); err != nil {
		return nil, err
	}

	entry, err := recordHistory(ctx, tx, item, snap, store.ChangeDelete, nil, request, session, note)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// applyProjectUpdate writes the proposed project fields directly. Project
// level changes produce no history row; only item changes are versioned.
func applyProjectUpdate(ctx context.Context, tx store.Tx, request store.ChangeRequest) error {
	payload, err := decodeProjectUpdatePayload(request.Data)
	if err != nil {
		return err
	}
	return tx.UpdateProject(ctx, request.ProjectID, payload.Title, payload.Description)
}

func (s *Service) applyProjectDelete(ctx context.Context, tx store.Tx, request store.ChangeRequest, session Session, note string, outcome *approvalOutcome) error {
	if rbac.Normalize(session.Role) != rbac.RoleAdmin {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can delete projects", nil)
	}

	ok, err := tx.MarkRequestApproved(ctx, request.ID, session.UserID, session.UserName, note)
	if err != nil {
		return err
	}
	if !ok {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Request is not pending", nil)
	}

	count, err := tx.CountProjectItems(ctx, request.ProjectID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainError(http.StatusConflict, "PROJECT_HAS_ITEMS", "Cannot delete a project that still has items", nil)
	}
	if err := tx.DeleteProject(ctx, request.ProjectID); err != nil {
		return err
	}

	outcome.request = reviewedCopy(request, store.StatusApproved, session, note)
	return nil
}

// insertRelationPairs adds both directions of each proposed relation edge.
// The upsert swallows duplicates, so an edge that already exists in one
// direction never aborts the approval.
func insertRelationPairs(ctx context.Context, tx store.Tx, itemID int64, related []RelatedItemInput) error {
	for _, rel := range related {
		if rel.ItemID == itemID {
			continue
		}
		if err := tx.UpsertRelationEdge(ctx, itemID, rel.ItemID, rel.Description); err != nil {
			return err
		}
		if err := tx.UpsertRelationEdge(ctx, rel.ItemID, itemID, rel.Description); err != nil {
			return err
		}
	}
	return nil
}

// afterApproval runs the side effects of a committed approval: document
// generation, archive commit, search indexing and submitter notification.
// Every one of them is caught and logged; the approval itself already
// succeeded and stays succeeded.
func (s *Service) afterApproval(outcome approvalOutcome) {
	ctx := context.Background()

	if outcome.entry != nil {
		entry := outcome.entry
		s.generateDocument(ctx, entry, outcome.project)

		if s.archive != nil {
			if err := s.archive.EnsureProjectRepo(outcome.project.ID); err != nil {
				log.Printf("approve: ensure archive repo %s: %v", outcome.project.ID, err)
			} else if _, err := s.archive.CommitVersion(outcome.project.ID, entry.Row.ItemFullID, []byte(entry.Row.Snapshot), entry.Version, entry.Row.ChangeType, outcome.request.ReviewedByName); err != nil {
				log.Printf("approve: archive commit %s v%d: %v", entry.Row.ItemFullID, entry.Version, err)
			}
		}

		if s.search != nil {
			if outcome.deleted {
				s.search.DeleteItem(search.ItemDocID(entry.Row.ItemID))
			} else {
				s.search.IndexItem(search.ItemRecord{
					ID:        search.ItemDocID(entry.Row.ItemID),
					FullID:    entry.Row.ItemFullID,
					Title:     entry.Snapshot.Title,
					Content:   entry.Snapshot.Content,
					ProjectID: entry.Row.ProjectID,
				})
			}
			s.search.IndexHistory(search.HistoryRecord{
				ID:           search.HistoryDocID(entry.HistoryID),
				ItemFullID:   entry.Row.ItemFullID,
				ItemTitle:    entry.Row.ItemTitle,
				SubmitReason: entry.Row.SubmitReason,
				ReviewNote:   entry.Row.ReviewNote,
				ChangeType:   entry.Row.ChangeType,
				Version:      entry.Version,
				ProjectID:    entry.Row.ProjectID,
			})
		}
	}

	if s.notifier != nil {
		s.notifier.RequestReviewed(ctx, outcome.request, s.approvalSubject(ctx, outcome))
	}

	if pub, ok := s.sessions.(invalidator); ok {
		if err := pub.PublishInvalidation(ctx, outcome.request.ProjectID); err != nil {
			log.Printf("approve: publish invalidation for %s: %v", outcome.request.ProjectID, err)
		}
	}
}

// invalidator is the optional capability of a session backend to broadcast
// cache-invalidation signals. The Redis store has it; the Postgres fallback
// does not.
type invalidator interface {
	PublishInvalidation(ctx context.Context, projectID string) error
}

// generateDocument renders the controlled sign-off document for a fresh
// ledger entry and attaches the stored path to the history row.
func (s *Service) generateDocument(ctx context.Context, entry *ledgerEntry, project store.Project) {
	if s.docs == nil {
		return
	}
	path, err := s.docs.Generate(ctx, docgen.Request{
		History:  entry.Row,
		Project:  project,
		Snapshot: entry.Snapshot,
		Diff:     entry.Diff,
	})
	if err != nil {
		log.Printf("approve: generate document for history %d: %v", entry.HistoryID, err)
		return
	}
	if err := s.store.SetHistoryDocPath(ctx, entry.HistoryID, path); err != nil {
		log.Printf("approve: persist document path for history %d: %v", entry.HistoryID, err)
	}
}

// approvalSubject names the target of a committed approval for notification
// text. The ledger entry carries the item identity even for a CREATE, where
// the request row has no itemId.
func (s *Service) approvalSubject(ctx context.Context, outcome approvalOutcome) string {
	if outcome.entry != nil {
		return fmt.Sprintf("%s %s", outcome.entry.Row.ItemFullID, outcome.entry.Row.ItemTitle)
	}
	return s.requestSubject(ctx, outcome.request)
}

// requestSubject names the target of a request for notification text: the
// item's full id when there is one, otherwise the project code.
func (s *Service) requestSubject(ctx context.Context, request store.ChangeRequest) string {
	if request.ItemID != nil {
		if item, err := s.store.GetItem(ctx, *request.ItemID); err == nil {
			return fmt.Sprintf("%s %s", item.FullID, item.Title)
		}
	}
	if project, err := s.store.GetProject(ctx, request.ProjectID); err == nil {
		return fmt.Sprintf("%s %s", project.Code, project.Title)
	}
	return request.ProjectID
}

func reviewedCopy(request store.ChangeRequest, status string, session Session, note string) store.ChangeRequest {
	reviewer := session.UserID
	now := time.Now()
	request.Status = status
	request.ReviewedBy = &reviewer
	request.ReviewedByName = session.UserName
	request.ReviewNote = note
	request.ReviewedAt = &now
	return request
}
