// Package docgen renders approved item versions into controlled sign-off
// documents (PDF via headless Chrome) and stores them for the QC workflow.
package docgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"html/template"
	"strings"

	"regdoc/api/internal/snapshot"
	"regdoc/api/internal/store"
)

// Request carries everything needed to render one history entry
type Request struct {
	History  store.ItemHistory
	Project  store.Project
	Snapshot snapshot.Snapshot
	Diff     map[string]snapshot.FieldChange
}

// Service generates controlled documents
type Service struct {
	storage Storage
}

func NewService(storage Storage) *Service {
	return &Service{storage: storage}
}

// Generate renders the document and stores it, returning the stored path.
// When Chrome is unavailable the HTML itself is stored so the sign-off
// workflow can still proceed.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	htmlDoc, err := RenderDocumentHTML(buildTemplateData(req))
	if err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}

	name := fmt.Sprintf("%s/%s-v%d", req.Project.Code, sanitizeFilename(req.History.ItemFullID), req.History.Version)

	pdf, err := renderPDF(ctx, htmlDoc)
	if err != nil {
		if !errors.Is(err, ErrPDFDependencyMissing) {
			return "", err
		}
		return s.storage.Put(ctx, name+".html", []byte(htmlDoc))
	}
	return s.storage.Put(ctx, name+".pdf", pdf)
}

func buildTemplateData(req Request) TemplateData {
	data := TemplateData{
		ProjectCode:     req.Project.Code,
		ProjectTitle:    req.Project.Title,
		ItemFullID:      req.History.ItemFullID,
		ItemTitle:       req.Snapshot.Title,
		Version:         req.History.Version,
		ChangeType:      req.History.ChangeType,
		ContentHTML:     contentToHTML(req.Snapshot.Content),
		Attachments:     decodeAttachments(req.Snapshot.Attachments),
		SubmittedByName: req.History.SubmittedByName,
		SubmitReason:    req.History.SubmitReason,
		ReviewedByName:  req.History.ReviewedByName,
		ReviewNote:      req.History.ReviewNote,
		ApprovedAt:      req.History.CreatedAt,
	}

	for _, rel := range req.Snapshot.RelatedItems {
		data.RelatedItems = append(data.RelatedItems, TemplateRelated{
			FullID:      rel.FullID,
			Title:       rel.Title,
			Description: rel.Description,
		})
	}

	for field, change := range req.Diff {
		data.Changes = append(data.Changes, TemplateChange{
			Field: field,
			Old:   stringify(change.Old),
			New:   stringify(change.New),
		})
	}

	return data
}

// contentToHTML turns stored plain text into paragraph markup. Blank lines
// delimit paragraphs; everything else is escaped.
func contentToHTML(content string) template.HTML {
	var b strings.Builder
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(para), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return template.HTML(b.String())
}

func decodeAttachments(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var attachments []string
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil
	}
	return attachments
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
