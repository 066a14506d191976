package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID          string
	Code        string
	Title       string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Item is a hierarchical content node. Items are only created, mutated and
// soft-deleted through approved change requests; the row itself is never
// physically removed so history foreign keys stay valid.
type Item struct {
	ID             int64
	FullID         string
	Title          string
	Content        string
	Attachments    string
	ProjectID      string
	ParentID       *int64
	Seq            int
	CurrentVersion int
	IsDeleted      bool
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RelatedItemRow is a directed relation edge joined with the target item's
// display fields, as needed for snapshot building.
type RelatedItemRow struct {
	TargetItemID int64
	TargetFullID string
	TargetTitle  string
	Description  string
}

// Change request types and statuses.
const (
	RequestCreate        = "CREATE"
	RequestUpdate        = "UPDATE"
	RequestDelete        = "DELETE"
	RequestProjectUpdate = "PROJECT_UPDATE"
	RequestProjectDelete = "PROJECT_DELETE"

	StatusPending     = "PENDING"
	StatusApproved    = "APPROVED"
	StatusRejected    = "REJECTED"
	StatusResubmitted = "RESUBMITTED"
)

type ChangeRequest struct {
	ID                string
	Type              string
	Status            string
	Data              string
	ProjectID         string
	ItemID            *int64
	ParentItemID      *int64
	SubmittedBy       string
	SubmittedByName   string
	SubmitReason      string
	ReviewedBy        *string
	ReviewedByName    string
	ReviewNote        string
	PreviousRequestID *string
	CreatedAt         time.Time
	ReviewedAt        *time.Time
}

// History change types.
const (
	ChangeCreate  = "CREATE"
	ChangeUpdate  = "UPDATE"
	ChangeDelete  = "DELETE"
	ChangeRestore = "RESTORE"
)

// ItemHistory is an append-only ledger row. Display fields are denormalized at
// write time so rows stay renderable after the item or users are gone. Only
// iso_doc_path may be written after creation.
type ItemHistory struct {
	ID              int64
	ItemID          int64
	Version         int
	ChangeType      string
	Snapshot        string
	Diff            *string
	SubmittedBy     string
	SubmittedByName string
	ReviewedBy      string
	ReviewedByName  string
	SubmitReason    string
	ReviewNote      string
	ChangeRequestID string
	ItemFullID      string
	ItemTitle       string
	ProjectID       string
	IsoDocPath      string
	CreatedAt       time.Time
}

// QC document approval statuses.
const (
	QCPendingQC         = "PENDING_QC"
	QCPendingPM         = "PENDING_PM"
	QCApproved          = "APPROVED"
	QCRevisionRequested = "REVISION_REQUESTED"
)

type QCDocumentApproval struct {
	ID               string
	HistoryID        int64
	Status           string
	ResumeStatus     string
	QCReviewedBy     string
	QCReviewedByName string
	QCReviewedAt     *time.Time
	QCNote           string
	PMReviewedBy     string
	PMReviewedByName string
	PMReviewedAt     *time.Time
	PMNote           string
	RevisionCount    int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type QCRevisionRequest struct {
	ID              int64
	ApprovalID      string
	Stage           string
	RequestedBy     string
	RequestedByName string
	Note            string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

type Notification struct {
	ID              string
	UserID          string
	Type            string
	Title           string
	Message         string
	Link            string
	ChangeRequestID string
	CreatedAt       time.Time
	ReadAt          *time.Time
}
