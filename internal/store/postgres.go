package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same query methods
// serve direct calls and approval transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is the slice of the store available inside an approval transaction.
type Tx interface {
	GetChangeRequest(ctx context.Context, requestID string) (ChangeRequest, error)
	InsertChangeRequest(ctx context.Context, request ChangeRequest) error
	MarkRequestApproved(ctx context.Context, requestID, reviewedBy, reviewedByName, note string) (bool, error)
	MarkRequestResubmitted(ctx context.Context, requestID string) (bool, error)

	GetProject(ctx context.Context, projectID string) (Project, error)
	GetProjectForUpdate(ctx context.Context, projectID string) (Project, error)
	UpdateProject(ctx context.Context, projectID, title, description string) error
	DeleteProject(ctx context.Context, projectID string) error
	CountProjectItems(ctx context.Context, projectID string) (int, error)

	GetItem(ctx context.Context, itemID int64) (Item, error)
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	UpdateItemContent(ctx context.Context, itemID int64, title, content, attachments string) error
	SetItemVersion(ctx context.Context, itemID int64, version int) error
	SoftDeleteItem(ctx context.Context, itemID int64) error
	CountActiveChildren(ctx context.Context, itemID int64) (int, error)
	NextChildSeq(ctx context.Context, projectID string, parentID *int64) (int, error)

	ListItemRelations(ctx context.Context, itemID int64) ([]RelatedItemRow, error)
	UpsertRelationEdge(ctx context.Context, sourceID, targetID int64, description string) error
	DeleteRelationsTouching(ctx context.Context, itemID int64) error

	InsertItemHistory(ctx context.Context, row ItemHistory) (int64, error)
	InsertQCApproval(ctx context.Context, approval QCDocumentApproval) error
}

type PostgresStore struct {
	db *sql.DB
	queries
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, queries: queries{db: db}}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a single database transaction. The approval engine uses
// this so domain mutation, version bump and ledger append commit or roll back
// as one unit.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	q := &queries{db: tx}
	if err := fn(q); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queries holds every row-level operation; it runs against the pool directly
// or against an open transaction.
type queries struct {
	db DBTX
}

// ---- users ----

func (q *queries) CreateUser(ctx context.Context, user User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken, user.VerificationExpiresAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *queries) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (q *queries) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users WHERE email=$1
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (q *queries) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (q *queries) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (q *queries) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (q *queries) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (q *queries) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (q *queries) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- sessions ----

func (q *queries) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (q *queries) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := q.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (q *queries) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (q *queries) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (q *queries) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := q.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- projects ----

func (q *queries) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, code, title, description, created_by, created_at, updated_at
		FROM projects
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var item Project
		if err := rows.Scan(&item.ID, &item.Code, &item.Title, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (q *queries) GetProject(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := q.db.QueryRowContext(ctx, `
		SELECT id, code, title, description, created_by, created_at, updated_at
		FROM projects WHERE id=$1
	`, projectID).Scan(&item.ID, &item.Code, &item.Title, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

// GetProjectForUpdate re-reads the project under a row lock. CREATE approvals
// take it before allocating a sibling seq, which keeps NextChildSeq from
// handing the same number to two concurrent transactions.
func (q *queries) GetProjectForUpdate(ctx context.Context, projectID string) (Project, error) {
	var item Project
	err := q.db.QueryRowContext(ctx, `
		SELECT id, code, title, description, created_by, created_at, updated_at
		FROM projects WHERE id=$1 FOR UPDATE
	`, projectID).Scan(&item.ID, &item.Code, &item.Title, &item.Description, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (q *queries) InsertProject(ctx context.Context, project Project) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO projects (id, code, title, description, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, project.ID, project.Code, project.Title, project.Description, project.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (q *queries) UpdateProject(ctx context.Context, projectID, title, description string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE projects SET title=$2, description=$3, updated_at=NOW() WHERE id=$1
	`, projectID, title, description)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (q *queries) DeleteProject(ctx context.Context, projectID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (q *queries) CountProjectItems(ctx context.Context, projectID string) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items WHERE project_id=$1`, projectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count project items: %w", err)
	}
	return count, nil
}

// ---- items ----

const itemColumns = `id, full_id, title, content, attachments, project_id, parent_id, seq, current_version, is_deleted, published_at, created_at, updated_at`

func scanItem(row *sql.Row) (Item, error) {
	var item Item
	err := row.Scan(
		&item.ID,
		&item.FullID,
		&item.Title,
		&item.Content,
		&item.Attachments,
		&item.ProjectID,
		&item.ParentID,
		&item.Seq,
		&item.CurrentVersion,
		&item.IsDeleted,
		&item.PublishedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (q *queries) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID))
}

// GetItemForUpdate re-reads the item under a row lock. Version numbers are
// always computed from this read, never from state cached at submission time.
func (q *queries) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, itemID))
}

func (q *queries) ListProjectItems(ctx context.Context, projectID string, includeDeleted bool) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE project_id=$1 AND ($2::boolean OR NOT is_deleted)
		ORDER BY full_id ASC
	`, projectID, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list project items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID,
			&item.FullID,
			&item.Title,
			&item.Content,
			&item.Attachments,
			&item.ProjectID,
			&item.ParentID,
			&item.Seq,
			&item.CurrentVersion,
			&item.IsDeleted,
			&item.PublishedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (q *queries) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO items (full_id, title, content, attachments, project_id, parent_id, seq, current_version, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id, created_at, updated_at
	`, item.FullID, item.Title, item.Content, item.Attachments, item.ProjectID, item.ParentID, item.Seq, item.CurrentVersion).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}
	return item, nil
}

func (q *queries) UpdateItemContent(ctx context.Context, itemID int64, title, content, attachments string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE items SET title=$2, content=$3, attachments=$4, updated_at=NOW() WHERE id=$1
	`, itemID, title, content, attachments)
	if err != nil {
		return fmt.Errorf("update item content: %w", err)
	}
	return nil
}

func (q *queries) SetItemVersion(ctx context.Context, itemID int64, version int) error {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET current_version=$2, updated_at=NOW() WHERE id=$1`, itemID, version)
	if err != nil {
		return fmt.Errorf("set item version: %w", err)
	}
	return nil
}

func (q *queries) SoftDeleteItem(ctx context.Context, itemID int64) error {
	_, err := q.db.ExecContext(ctx, `UPDATE items SET is_deleted=TRUE, updated_at=NOW() WHERE id=$1`, itemID)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	return nil
}

func (q *queries) CountActiveChildren(ctx context.Context, itemID int64) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM items WHERE parent_id=$1 AND NOT is_deleted
	`, itemID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active children: %w", err)
	}
	return count, nil
}

// NextChildSeq allocates the next position under a parent (or project root).
// Soft-deleted siblings still count, so a full id is never reissued.
func (q *queries) NextChildSeq(ctx context.Context, projectID string, parentID *int64) (int, error) {
	var next int
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1
		FROM items
		WHERE project_id=$1 AND parent_id IS NOT DISTINCT FROM $2
	`, projectID, parentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next child seq: %w", err)
	}
	return next, nil
}

// ---- relations ----

func (q *queries) ListItemRelations(ctx context.Context, itemID int64) ([]RelatedItemRow, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.target_item_id, t.full_id, t.title, r.description
		FROM item_relations r
		JOIN items t ON t.id = r.target_item_id
		WHERE r.source_item_id=$1
		ORDER BY r.target_item_id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item relations: %w", err)
	}
	defer rows.Close()

	items := make([]RelatedItemRow, 0)
	for rows.Next() {
		var item RelatedItemRow
		if err := rows.Scan(&item.TargetItemID, &item.TargetFullID, &item.TargetTitle, &item.Description); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}
	return items, nil
}

// UpsertRelationEdge inserts one direction of a relation. Duplicate edges are
// ignored rather than surfaced, which keeps repeated adds idempotent.
func (q *queries) UpsertRelationEdge(ctx context.Context, sourceID, targetID int64, description string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO item_relations (source_item_id, target_item_id, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_item_id, target_item_id) DO NOTHING
	`, sourceID, targetID, description)
	if err != nil {
		return fmt.Errorf("upsert relation edge: %w", err)
	}
	return nil
}

func (q *queries) DeleteRelationsTouching(ctx context.Context, itemID int64) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM item_relations WHERE source_item_id=$1 OR target_item_id=$1
	`, itemID)
	if err != nil {
		return fmt.Errorf("delete relations: %w", err)
	}
	return nil
}

// ---- change requests ----

const changeRequestColumns = `id, type, status, data::text, project_id, item_id, parent_item_id, submitted_by, submitted_by_name, submit_reason, reviewed_by, reviewed_by_name, review_note, previous_request_id, created_at, reviewed_at`

func scanChangeRequest(row *sql.Row) (ChangeRequest, error) {
	var item ChangeRequest
	err := row.Scan(
		&item.ID,
		&item.Type,
		&item.Status,
		&item.Data,
		&item.ProjectID,
		&item.ItemID,
		&item.ParentItemID,
		&item.SubmittedBy,
		&item.SubmittedByName,
		&item.SubmitReason,
		&item.ReviewedBy,
		&item.ReviewedByName,
		&item.ReviewNote,
		&item.PreviousRequestID,
		&item.CreatedAt,
		&item.ReviewedAt,
	)
	return item, err
}

func (q *queries) GetChangeRequest(ctx context.Context, requestID string) (ChangeRequest, error) {
	return scanChangeRequest(q.db.QueryRowContext(ctx, `SELECT `+changeRequestColumns+` FROM change_requests WHERE id=$1`, requestID))
}

func (q *queries) InsertChangeRequest(ctx context.Context, request ChangeRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO change_requests (id, type, status, data, project_id, item_id, parent_item_id, submitted_by, submitted_by_name, submit_reason, previous_request_id)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11)
	`, request.ID, request.Type, request.Status, request.Data, request.ProjectID, request.ItemID, request.ParentItemID, request.SubmittedBy, request.SubmittedByName, request.SubmitReason, request.PreviousRequestID)
	if err != nil {
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (q *queries) ListChangeRequests(ctx context.Context, projectID, status string, limit int) ([]ChangeRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+changeRequestColumns+`
		FROM change_requests
		WHERE ($1 = '' OR project_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, projectID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeRequest, 0)
	for rows.Next() {
		var item ChangeRequest
		if err := rows.Scan(
			&item.ID,
			&item.Type,
			&item.Status,
			&item.Data,
			&item.ProjectID,
			&item.ItemID,
			&item.ParentItemID,
			&item.SubmittedBy,
			&item.SubmittedByName,
			&item.SubmitReason,
			&item.ReviewedBy,
			&item.ReviewedByName,
			&item.ReviewNote,
			&item.PreviousRequestID,
			&item.CreatedAt,
			&item.ReviewedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change requests: %w", err)
	}
	return items, nil
}

// MarkRequestApproved flips PENDING to APPROVED. The status predicate makes
// the transition a compare-and-swap: a request already resolved by a
// concurrent reviewer reports false instead of double-applying.
func (q *queries) MarkRequestApproved(ctx context.Context, requestID, reviewedBy, reviewedByName, note string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status='APPROVED', reviewed_by=$2, reviewed_by_name=$3, review_note=$4, reviewed_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, requestID, reviewedBy, reviewedByName, note)
	if err != nil {
		return false, fmt.Errorf("mark request approved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark request approved rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) MarkRequestRejected(ctx context.Context, requestID, reviewedBy, reviewedByName, note string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE change_requests
		SET status='REJECTED', reviewed_by=$2, reviewed_by_name=$3, review_note=$4, reviewed_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, requestID, reviewedBy, reviewedByName, note)
	if err != nil {
		return false, fmt.Errorf("mark request rejected: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark request rejected rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) MarkRequestResubmitted(ctx context.Context, requestID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE change_requests SET status='RESUBMITTED' WHERE id=$1 AND status='REJECTED'
	`, requestID)
	if err != nil {
		return false, fmt.Errorf("mark request resubmitted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark request resubmitted rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) DeleteChangeRequest(ctx context.Context, requestID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM change_requests WHERE id=$1`, requestID)
	if err != nil {
		return fmt.Errorf("delete change request: %w", err)
	}
	return nil
}

// ---- item history ----

const historyColumns = `id, item_id, version, change_type, snapshot::text, diff::text, submitted_by, submitted_by_name, reviewed_by, reviewed_by_name, submit_reason, review_note, change_request_id, item_full_id, item_title, project_id, iso_doc_path, created_at`

func (q *queries) InsertItemHistory(ctx context.Context, row ItemHistory) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO item_history (item_id, version, change_type, snapshot, diff, submitted_by, submitted_by_name, reviewed_by, reviewed_by_name, submit_reason, review_note, change_request_id, item_full_id, item_title, project_id)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, row.ItemID, row.Version, row.ChangeType, row.Snapshot, row.Diff, row.SubmittedBy, row.SubmittedByName, row.ReviewedBy, row.ReviewedByName, row.SubmitReason, row.ReviewNote, row.ChangeRequestID, row.ItemFullID, row.ItemTitle, row.ProjectID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert item history: %w", err)
	}
	return id, nil
}

func (q *queries) GetItemHistory(ctx context.Context, historyID int64) (ItemHistory, error) {
	var row ItemHistory
	err := q.db.QueryRowContext(ctx, `SELECT `+historyColumns+` FROM item_history WHERE id=$1`, historyID).Scan(
		&row.ID,
		&row.ItemID,
		&row.Version,
		&row.ChangeType,
		&row.Snapshot,
		&row.Diff,
		&row.SubmittedBy,
		&row.SubmittedByName,
		&row.ReviewedBy,
		&row.ReviewedByName,
		&row.SubmitReason,
		&row.ReviewNote,
		&row.ChangeRequestID,
		&row.ItemFullID,
		&row.ItemTitle,
		&row.ProjectID,
		&row.IsoDocPath,
		&row.CreatedAt,
	)
	if err != nil {
		return ItemHistory{}, err
	}
	return row, nil
}

func (q *queries) ListItemHistory(ctx context.Context, itemID int64) ([]ItemHistory, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM item_history
		WHERE item_id=$1
		ORDER BY version DESC, created_at DESC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item history: %w", err)
	}
	defer rows.Close()

	items := make([]ItemHistory, 0)
	for rows.Next() {
		var row ItemHistory
		if err := rows.Scan(
			&row.ID,
			&row.ItemID,
			&row.Version,
			&row.ChangeType,
			&row.Snapshot,
			&row.Diff,
			&row.SubmittedBy,
			&row.SubmittedByName,
			&row.ReviewedBy,
			&row.ReviewedByName,
			&row.SubmitReason,
			&row.ReviewNote,
			&row.ChangeRequestID,
			&row.ItemFullID,
			&row.ItemTitle,
			&row.ProjectID,
			&row.IsoDocPath,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan item history: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item history: %w", err)
	}
	return items, nil
}

// SetHistoryDocPath attaches the generated document path. This is the only
// write ever made to a history row after creation.
func (q *queries) SetHistoryDocPath(ctx context.Context, historyID int64, path string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE item_history SET iso_doc_path=$2 WHERE id=$1`, historyID, path)
	if err != nil {
		return fmt.Errorf("set history doc path: %w", err)
	}
	return nil
}

// ---- QC document approvals ----

const qcColumns = `id, history_id, status, resume_status, qc_reviewed_by, qc_reviewed_by_name, qc_reviewed_at, qc_note, pm_reviewed_by, pm_reviewed_by_name, pm_reviewed_at, pm_note, revision_count, created_at, updated_at`

func scanQCApproval(row *sql.Row) (QCDocumentApproval, error) {
	var item QCDocumentApproval
	err := row.Scan(
		&item.ID,
		&item.HistoryID,
		&item.Status,
		&item.ResumeStatus,
		&item.QCReviewedBy,
		&item.QCReviewedByName,
		&item.QCReviewedAt,
		&item.QCNote,
		&item.PMReviewedBy,
		&item.PMReviewedByName,
		&item.PMReviewedAt,
		&item.PMNote,
		&item.RevisionCount,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (q *queries) InsertQCApproval(ctx context.Context, approval QCDocumentApproval) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO qc_document_approvals (id, history_id, status)
		VALUES ($1, $2, $3)
	`, approval.ID, approval.HistoryID, approval.Status)
	if err != nil {
		return fmt.Errorf("insert qc approval: %w", err)
	}
	return nil
}

func (q *queries) GetQCApproval(ctx context.Context, approvalID string) (QCDocumentApproval, error) {
	return scanQCApproval(q.db.QueryRowContext(ctx, `SELECT `+qcColumns+` FROM qc_document_approvals WHERE id=$1`, approvalID))
}

func (q *queries) GetQCApprovalByHistory(ctx context.Context, historyID int64) (QCDocumentApproval, error) {
	return scanQCApproval(q.db.QueryRowContext(ctx, `SELECT `+qcColumns+` FROM qc_document_approvals WHERE history_id=$1`, historyID))
}

func (q *queries) ListQCApprovals(ctx context.Context, status string, limit int) ([]QCDocumentApproval, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+qcColumns+`
		FROM qc_document_approvals
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list qc approvals: %w", err)
	}
	defer rows.Close()

	items := make([]QCDocumentApproval, 0)
	for rows.Next() {
		var item QCDocumentApproval
		if err := rows.Scan(
			&item.ID,
			&item.HistoryID,
			&item.Status,
			&item.ResumeStatus,
			&item.QCReviewedBy,
			&item.QCReviewedByName,
			&item.QCReviewedAt,
			&item.QCNote,
			&item.PMReviewedBy,
			&item.PMReviewedByName,
			&item.PMReviewedAt,
			&item.PMNote,
			&item.RevisionCount,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan qc approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qc approvals: %w", err)
	}
	return items, nil
}

func (q *queries) MarkQCSigned(ctx context.Context, approvalID, reviewedBy, reviewedByName, note string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE qc_document_approvals
		SET status='PENDING_PM', qc_reviewed_by=$2, qc_reviewed_by_name=$3, qc_reviewed_at=NOW(), qc_note=$4, updated_at=NOW()
		WHERE id=$1 AND status='PENDING_QC'
	`, approvalID, reviewedBy, reviewedByName, note)
	if err != nil {
		return false, fmt.Errorf("mark qc signed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark qc signed rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) MarkPMSigned(ctx context.Context, approvalID, reviewedBy, reviewedByName, note string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE qc_document_approvals
		SET status='APPROVED', pm_reviewed_by=$2, pm_reviewed_by_name=$3, pm_reviewed_at=NOW(), pm_note=$4, updated_at=NOW()
		WHERE id=$1 AND status='PENDING_PM'
	`, approvalID, reviewedBy, reviewedByName, note)
	if err != nil {
		return false, fmt.Errorf("mark pm signed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark pm signed rows: %w", err)
	}
	return affected > 0, nil
}

// MarkRevisionRequested parks the approval in REVISION_REQUESTED and records
// the stage it branched from so resolution can return there.
func (q *queries) MarkRevisionRequested(ctx context.Context, approvalID, fromStage string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE qc_document_approvals
		SET status='REVISION_REQUESTED', resume_status=$2, revision_count=revision_count+1, updated_at=NOW()
		WHERE id=$1 AND status=$2
	`, approvalID, fromStage)
	if err != nil {
		return false, fmt.Errorf("mark revision requested: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark revision requested rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) MarkRevisionResolved(ctx context.Context, approvalID string) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE qc_document_approvals
		SET status=resume_status, resume_status='', updated_at=NOW()
		WHERE id=$1 AND status='REVISION_REQUESTED'
	`, approvalID)
	if err != nil {
		return false, fmt.Errorf("mark revision resolved: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark revision resolved rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) InsertQCRevisionRequest(ctx context.Context, request QCRevisionRequest) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO qc_revision_requests (approval_id, stage, requested_by, requested_by_name, note)
		VALUES ($1, $2, $3, $4, $5)
	`, request.ApprovalID, request.Stage, request.RequestedBy, request.RequestedByName, request.Note)
	if err != nil {
		return fmt.Errorf("insert qc revision request: %w", err)
	}
	return nil
}

func (q *queries) ResolveOpenRevisionRequests(ctx context.Context, approvalID string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE qc_revision_requests SET resolved_at=NOW() WHERE approval_id=$1 AND resolved_at IS NULL
	`, approvalID)
	if err != nil {
		return fmt.Errorf("resolve revision requests: %w", err)
	}
	return nil
}

func (q *queries) ListQCRevisionRequests(ctx context.Context, approvalID string) ([]QCRevisionRequest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, approval_id, stage, requested_by, requested_by_name, note, created_at, resolved_at
		FROM qc_revision_requests
		WHERE approval_id=$1
		ORDER BY created_at ASC
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list qc revision requests: %w", err)
	}
	defer rows.Close()

	items := make([]QCRevisionRequest, 0)
	for rows.Next() {
		var item QCRevisionRequest
		if err := rows.Scan(&item.ID, &item.ApprovalID, &item.Stage, &item.RequestedBy, &item.RequestedByName, &item.Note, &item.CreatedAt, &item.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan qc revision request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qc revision requests: %w", err)
	}
	return items, nil
}

// ---- notifications ----

func (q *queries) InsertNotification(ctx context.Context, n Notification) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, link, change_request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Link, n.ChangeRequestID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q *queries) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, message, link, change_request_id, created_at, read_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Type, &item.Title, &item.Message, &item.Link, &item.ChangeRequestID, &item.CreatedAt, &item.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}
