package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"regdoc/api/internal/archive"
	"regdoc/api/internal/auth"
	"regdoc/api/internal/authpw"
	"regdoc/api/internal/config"
	"regdoc/api/internal/docgen"
	"regdoc/api/internal/notify"
	"regdoc/api/internal/rbac"
	"regdoc/api/internal/search"
	"regdoc/api/internal/snapshot"
	"regdoc/api/internal/store"
	"regdoc/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the persistence surface the service depends on. PostgresStore
// implements it; tests substitute a fake.
type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListProjects(context.Context) ([]store.Project, error)
	GetProject(context.Context, string) (store.Project, error)
	InsertProject(context.Context, store.Project) error

	GetItem(context.Context, int64) (store.Item, error)
	ListProjectItems(context.Context, string, bool) ([]store.Item, error)
	CountActiveChildren(context.Context, int64) (int, error)
	ListItemRelations(context.Context, int64) ([]store.RelatedItemRow, error)

	GetChangeRequest(context.Context, string) (store.ChangeRequest, error)
	InsertChangeRequest(context.Context, store.ChangeRequest) error
	ListChangeRequests(context.Context, string, string, int) ([]store.ChangeRequest, error)
	MarkRequestRejected(context.Context, string, string, string, string) (bool, error)
	DeleteChangeRequest(context.Context, string) error

	GetItemHistory(context.Context, int64) (store.ItemHistory, error)
	ListItemHistory(context.Context, int64) ([]store.ItemHistory, error)
	SetHistoryDocPath(context.Context, int64, string) error

	GetQCApproval(context.Context, string) (store.QCDocumentApproval, error)
	GetQCApprovalByHistory(context.Context, int64) (store.QCDocumentApproval, error)
	ListQCApprovals(context.Context, string, int) ([]store.QCDocumentApproval, error)
	MarkQCSigned(context.Context, string, string, string, string) (bool, error)
	MarkPMSigned(context.Context, string, string, string, string) (bool, error)
	MarkRevisionRequested(context.Context, string, string) (bool, error)
	MarkRevisionResolved(context.Context, string) (bool, error)
	InsertQCRevisionRequest(context.Context, store.QCRevisionRequest) error
	ResolveOpenRevisionRequests(context.Context, string) error
	ListQCRevisionRequests(context.Context, string) ([]store.QCRevisionRequest, error)

	InTx(ctx context.Context, fn func(tx store.Tx) error) error
	Ping(ctx context.Context) error
}

// sessionStore keeps refresh tokens. The Redis backend is preferred; the
// Postgres store satisfies the same interface when Redis is not configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// Deps bundles the optional collaborators. Any of them may be nil; the
// service degrades to in-database behavior.
type Deps struct {
	Sessions sessionStore
	Auth     *authpw.Service
	Mailer   *notify.Mailer
	Notifier *notify.Service
	Docs     *docgen.Service
	Archive  *archive.Service
	Search   *search.Service
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	mailer   *notify.Mailer
	notifier *notify.Service
	docs     *docgen.Service
	archive  *archive.Service
	search   *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   deps.Auth,
		mailer:   deps.Mailer,
		notifier: deps.Notifier,
		docs:     deps.Docs,
		archive:  deps.Archive,
		search:   deps.Search,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ---- sessions ----

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis backend only stores the user id; role and display name come
	// from the database so a role change takes effect on the next refresh.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- projects ----

func (s *Service) CreateProject(ctx context.Context, session Session, code, title, description string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionDeleteProject) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only admins can create projects", nil)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "code is required", nil)
	}
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	project := store.Project{
		ID:          util.NewID("prj"),
		Code:        code,
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}
	if s.archive != nil {
		if err := s.archive.EnsureProjectRepo(project.ID); err != nil {
			return nil, err
		}
	}
	return projectJSON(project), nil
}

func (s *Service) ListProjects(ctx context.Context) ([]map[string]any, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		items = append(items, projectJSON(project))
	}
	return items, nil
}

func (s *Service) GetProjectOverview(ctx context.Context, projectID string, includeDeleted bool) (map[string]any, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListProjectItems(ctx, projectID, includeDeleted)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.ListChangeRequests(ctx, projectID, store.StatusPending, 50)
	if err != nil {
		return nil, err
	}

	itemsJSON := make([]map[string]any, 0, len(items))
	for _, item := range items {
		itemsJSON = append(itemsJSON, itemJSON(item))
	}
	pendingJSON := make([]map[string]any, 0, len(pending))
	for _, request := range pending {
		pendingJSON = append(pendingJSON, requestJSON(request))
	}

	payload := projectJSON(project)
	payload["items"] = itemsJSON
	payload["pendingRequests"] = pendingJSON
	return payload, nil
}

// ---- items ----

func (s *Service) GetItemDetail(ctx context.Context, itemID int64) (map[string]any, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	relations, err := s.store.ListItemRelations(ctx, itemID)
	if err != nil {
		return nil, err
	}

	payload := itemJSON(item)
	related := make([]map[string]any, 0, len(relations))
	for _, rel := range relations {
		related = append(related, map[string]any{
			"itemId":      rel.TargetItemID,
			"fullId":      rel.TargetFullID,
			"title":       rel.TargetTitle,
			"description": rel.Description,
		})
	}
	payload["relatedItems"] = related
	return payload, nil
}

func (s *Service) ListItemHistory(ctx context.Context, itemID int64) ([]map[string]any, error) {
	if _, err := s.store.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListItemHistory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, historyJSON(entry))
	}
	return items, nil
}

func (s *Service) GetHistoryDetail(ctx context.Context, historyID int64) (map[string]any, error) {
	entry, err := s.store.GetItemHistory(ctx, historyID)
	if err != nil {
		return nil, err
	}
	payload := historyJSON(entry)
	payload["snapshot"] = rawJSON(entry.Snapshot)
	if entry.Diff != nil {
		payload["diff"] = rawJSON(*entry.Diff)
	} else {
		payload["diff"] = nil
	}

	approval, err := s.store.GetQCApprovalByHistory(ctx, historyID)
	if err == nil {
		payload["documentApproval"] = qcApprovalJSON(approval)
	}
	return payload, nil
}

// ---- change requests (reads) ----

func (s *Service) ListRequests(ctx context.Context, projectID, status string, limit int) ([]map[string]any, error) {
	requests, err := s.store.ListChangeRequests(ctx, projectID, status, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(requests))
	for _, request := range requests {
		items = append(items, requestJSON(request))
	}
	return items, nil
}

func (s *Service) GetRequestDetail(ctx context.Context, requestID string) (map[string]any, error) {
	request, err := s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	payload := requestJSON(request)
	payload["data"] = rawJSON(request.Data)
	return payload, nil
}

// ---- search ----

func (s *Service) Search(ctx context.Context, query, filterType, projectID string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return map[string]any{"results": []any{}, "total": 0, "query": query}, nil
	}
	resp := s.search.Search(search.Query{
		Text:            query,
		FilterType:      search.ResultType(filterType),
		FilterProjectID: projectID,
		Limit:           limit,
		Offset:          offset,
	})
	return map[string]any{
		"results": resp.Results,
		"total":   resp.Total,
		"query":   resp.Query,
	}, nil
}

// ---- notifications ----

func (s *Service) Notifications(ctx context.Context, session Session, limit int) ([]map[string]any, error) {
	if s.notifier == nil {
		return []map[string]any{}, nil
	}
	notifications, err := s.notifier.List(ctx, session.UserID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, notificationJSON(n))
	}
	return items, nil
}

// ---- archive ----

func (s *Service) ProjectArchive(ctx context.Context, projectID string, limit int) ([]map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if s.archive == nil {
		return []map[string]any{}, nil
	}
	commits, err := s.archive.History(projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return items, nil
}

// ---- snapshots ----

// buildSnapshot projects an item plus its relation edges into the reviewable
// state stored on history rows.
func buildSnapshot(item store.Item, relations []store.RelatedItemRow) snapshot.Snapshot {
	snap := snapshot.Snapshot{
		Title:       item.Title,
		Content:     item.Content,
		Attachments: item.Attachments,
	}
	for _, rel := range relations {
		snap.RelatedItems = append(snap.RelatedItems, snapshot.RelatedItem{
			ItemID:      rel.TargetItemID,
			FullID:      rel.TargetFullID,
			Title:       rel.TargetTitle,
			Description: rel.Description,
		})
	}
	return snap
}
