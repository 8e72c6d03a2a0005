package project

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/services"
)

const maxCommentLen = 5000

// CommentBody picks the first non-empty text among the field names older
// clients used for the same thing (body, comment, updateText).
func CommentBody(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

func (s *Service) AddComment(ctx context.Context, projectID, authorID uuid.UUID, body string) (*models.ProjectComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Invalid("body", "is required")
	}
	if utf8.RuneCountInString(body) > maxCommentLen {
		return nil, apperr.Invalid("body", "must be at most 5000 characters")
	}

	var p models.Project
	c := &models.ProjectComment{ProjectID: projectID, AuthorID: authorID, Body: body}
	err := s.InTx(ctx, "add comment", func(tx *gorm.DB) error {
		if err := tx.First(&p, "id = ?", projectID).Error; err != nil {
			return services.NotFound(err, "project", projectID)
		}
		if !p.IsMember(authorID) {
			return apperr.Forbidden("not a member of project %s", projectID)
		}
		c.CreatedAt = s.Clock()
		return tx.Create(c).Error
	})
	if err != nil {
		return nil, err
	}

	other := p.FreelancerID
	if p.IsOwner(authorID) {
		other = uuid.Nil
		if p.ClientID != nil {
			other = *p.ClientID
		}
	}
	s.Emit(ctx, events.New(events.CommentAdded, projectID, map[string]any{
		"commentId": c.ID,
		"authorId":  authorID,
	}, other))
	return c, nil
}

func (s *Service) ListComments(ctx context.Context, projectID, userID uuid.UUID) ([]models.ProjectComment, error) {
	if _, err := s.Get(ctx, projectID, userID); err != nil {
		return nil, err
	}
	var out []models.ProjectComment
	err := s.Read(ctx, "list comments", func(q *gorm.DB) error {
		return q.Preload("Author").
			Where("project_id = ?", projectID).
			Order("created_at ASC").
			Find(&out).Error
	})
	return out, err
}
