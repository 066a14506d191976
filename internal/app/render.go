package app

import (
	"encoding/json"

	"regdoc/api/internal/store"
)

// JSON projections for API responses. Times render as RFC 3339 via the
// default encoder; nullable references render as null, not zero values.

func projectJSON(project store.Project) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"code":        project.Code,
		"title":       project.Title,
		"description": project.Description,
		"createdBy":   project.CreatedBy,
		"createdAt":   project.CreatedAt,
		"updatedAt":   project.UpdatedAt,
	}
}

func itemJSON(item store.Item) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"fullId":         item.FullID,
		"title":          item.Title,
		"content":        item.Content,
		"attachments":    rawJSON(item.Attachments),
		"projectId":      item.ProjectID,
		"parentId":       item.ParentID,
		"seq":            item.Seq,
		"currentVersion": item.CurrentVersion,
		"isDeleted":      item.IsDeleted,
		"publishedAt":    item.PublishedAt,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
	}
}

func requestJSON(request store.ChangeRequest) map[string]any {
	return map[string]any{
		"id":                request.ID,
		"type":              request.Type,
		"status":            request.Status,
		"projectId":         request.ProjectID,
		"itemId":            request.ItemID,
		"parentItemId":      request.ParentItemID,
		"submittedBy":       request.SubmittedBy,
		"submittedByName":   request.SubmittedByName,
		"submitReason":      request.SubmitReason,
		"reviewedBy":        request.ReviewedBy,
		"reviewedByName":    request.ReviewedByName,
		"reviewNote":        request.ReviewNote,
		"previousRequestId": request.PreviousRequestID,
		"createdAt":         request.CreatedAt,
		"reviewedAt":        request.ReviewedAt,
	}
}

func historyJSON(entry store.ItemHistory) map[string]any {
	return map[string]any{
		"id":              entry.ID,
		"itemId":          entry.ItemID,
		"version":         entry.Version,
		"changeType":      entry.ChangeType,
		"submittedBy":     entry.SubmittedBy,
		"submittedByName": entry.SubmittedByName,
		"reviewedBy":      entry.ReviewedBy,
		"reviewedByName":  entry.ReviewedByName,
		"submitReason":    entry.SubmitReason,
		"reviewNote":      entry.ReviewNote,
		"changeRequestId": entry.ChangeRequestID,
		"itemFullId":      entry.ItemFullID,
		"itemTitle":       entry.ItemTitle,
		"projectId":       entry.ProjectID,
		"isoDocPath":      entry.IsoDocPath,
		"createdAt":       entry.CreatedAt,
	}
}

func qcApprovalJSON(approval store.QCDocumentApproval) map[string]any {
	return map[string]any{
		"id":               approval.ID,
		"historyId":        approval.HistoryID,
		"status":           approval.Status,
		"qcReviewedBy":     approval.QCReviewedBy,
		"qcReviewedByName": approval.QCReviewedByName,
		"qcReviewedAt":     approval.QCReviewedAt,
		"qcNote":           approval.QCNote,
		"pmReviewedBy":     approval.PMReviewedBy,
		"pmReviewedByName": approval.PMReviewedByName,
		"pmReviewedAt":     approval.PMReviewedAt,
		"pmNote":           approval.PMNote,
		"revisionCount":    approval.RevisionCount,
		"createdAt":        approval.CreatedAt,
		"updatedAt":        approval.UpdatedAt,
	}
}

func revisionRequestJSON(request store.QCRevisionRequest) map[string]any {
	return map[string]any{
		"id":              request.ID,
		"stage":           request.Stage,
		"requestedBy":     request.RequestedBy,
		"requestedByName": request.RequestedByName,
		"note":            request.Note,
		"createdAt":       request.CreatedAt,
		"resolvedAt":      request.ResolvedAt,
	}
}

func notificationJSON(n store.Notification) map[string]any {
	return map[string]any{
		"id":              n.ID,
		"type":            n.Type,
		"title":           n.Title,
		"message":         n.Message,
		"link":            n.Link,
		"changeRequestId": n.ChangeRequestID,
		"createdAt":       n.CreatedAt,
		"readAt":          n.ReadAt,
	}
}

// rawJSON re-emits a stored JSON column without double-encoding it.
func rawJSON(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}
