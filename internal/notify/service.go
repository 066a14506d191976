// Package notify delivers in-app notifications and email for review events.
package notify

import (
	"context"
	"fmt"
	"log"

	"regdoc/api/internal/store"
	"regdoc/api/internal/util"
)

// NotificationStore is the persistence slice the notifier needs
type NotificationStore interface {
	InsertNotification(ctx context.Context, n store.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

// Service records in-app notifications and, when a mailer is configured,
// mirrors review outcomes to email. Delivery failures are logged and
// swallowed; a lost notification never fails the triggering operation.
type Service struct {
	store   NotificationStore
	mailer  *Mailer
	baseURL string
}

func NewService(st NotificationStore, mailer *Mailer, baseURL string) *Service {
	return &Service{store: st, mailer: mailer, baseURL: baseURL}
}

// RequestReviewed notifies the submitter that their change request was
// approved or rejected.
func (s *Service) RequestReviewed(ctx context.Context, request store.ChangeRequest, itemFullID string) {
	link := fmt.Sprintf("/projects/%s/requests/%s", request.ProjectID, request.ID)
	n := store.Notification{
		ID:              util.NewID("ntf"),
		UserID:          request.SubmittedBy,
		Type:            "request_reviewed",
		Title:           fmt.Sprintf("Change request %s", request.Status),
		Message:         fmt.Sprintf("Your %s request for %s was %s.", request.Type, itemFullID, request.Status),
		Link:            link,
		ChangeRequestID: request.ID,
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		log.Printf("notify: insert notification: %v", err)
	}

	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	user, err := s.store.GetUserByID(ctx, request.SubmittedBy)
	if err != nil {
		log.Printf("notify: lookup submitter %s: %v", request.SubmittedBy, err)
		return
	}
	if err := s.mailer.SendReviewResultEmail(user.Email, user.DisplayName, itemFullID, request.Status, request.ReviewNote, s.baseURL+link); err != nil {
		log.Printf("notify: send review email: %v", err)
	}
}

// DocumentStageChanged notifies a user that a controlled document moved to a
// sign-off stage they own.
func (s *Service) DocumentStageChanged(ctx context.Context, userID, itemFullID, stage, approvalID string) {
	n := store.Notification{
		ID:      util.NewID("ntf"),
		UserID:  userID,
		Type:    "document_stage",
		Title:   fmt.Sprintf("Document sign-off: %s", stage),
		Message: fmt.Sprintf("Document for %s is now %s.", itemFullID, stage),
		Link:    "/qc/approvals/" + approvalID,
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		log.Printf("notify: insert notification: %v", err)
	}
}

// List returns recent notifications for a user
func (s *Service) List(ctx context.Context, userID string, limit int) ([]store.Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit)
}
