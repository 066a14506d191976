package app

import (
	"context"

	"regdoc/api/internal/snapshot"
	"regdoc/api/internal/store"
	"regdoc/api/internal/util"
)

// ledgerEntry is what recordHistory hands back to the approval engine so the
// post-commit side effects (document generation, archive, search) can run
// without re-reading the row.
type ledgerEntry struct {
	HistoryID int64
	Version   int
	Snapshot  snapshot.Snapshot
	Diff      map[string]snapshot.FieldChange
	Row       store.ItemHistory
}

// recordHistory appends one immutable ledger row for an approved change and
// bumps the item's version counter. UPDATE and DELETE claim the next version
// number; CREATE keeps the version the item was born with. The diff is
// computed only for UPDATE and stays null when nothing changed. The QC
// sign-off record starts its own lifecycle here, in the same transaction, so
// a history row can never exist without one.
func recordHistory(ctx context.Context, tx store.Tx, item store.Item, snap snapshot.Snapshot, changeType string, oldSnap *snapshot.Snapshot, request store.ChangeRequest, reviewer Session, note string) (ledgerEntry, error) {
	var diff map[string]snapshot.FieldChange
	if changeType == store.ChangeUpdate && oldSnap != nil {
		diff = snapshot.ComputeDiff(*oldSnap, snap)
	}

	version := item.CurrentVersion
	if changeType == store.ChangeUpdate || changeType == store.ChangeDelete {
		version = item.CurrentVersion + 1
	}

	snapJSON, err := snapshot.Encode(snap)
	if err != nil {
		return ledgerEntry{}, err
	}

	row := store.ItemHistory{
		ItemID:          item.ID,
		Version:         version,
		ChangeType:      changeType,
		Snapshot:        snapJSON,
		SubmittedBy:     request.SubmittedBy,
		SubmittedByName: request.SubmittedByName,
		ReviewedBy:      reviewer.UserID,
		ReviewedByName:  reviewer.UserName,
		SubmitReason:    request.SubmitReason,
		ReviewNote:      note,
		ChangeRequestID: request.ID,
		ItemFullID:      item.FullID,
		ItemTitle:       snap.Title,
		ProjectID:       item.ProjectID,
	}
	if diff != nil {
		diffJSON, err := snapshot.EncodeDiff(diff)
		if err != nil {
			return ledgerEntry{}, err
		}
		row.Diff = &diffJSON
	}

	historyID, err := tx.InsertItemHistory(ctx, row)
	if err != nil {
		return ledgerEntry{}, err
	}
	row.ID = historyID

	if err := tx.SetItemVersion(ctx, item.ID, version); err != nil {
		return ledgerEntry{}, err
	}

	if err := tx.InsertQCApproval(ctx, store.QCDocumentApproval{
		ID:        util.NewID("qca"),
		HistoryID: historyID,
		Status:    store.QCPendingQC,
	}); err != nil {
		return ledgerEntry{}, err
	}

	return ledgerEntry{
		HistoryID: historyID,
		Version:   version,
		Snapshot:  snap,
		Diff:      diff,
		Row:       row,
	}, nil
}
