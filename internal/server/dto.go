package server

import (
	"memtech/internal/domain"
	"memtech/internal/engine"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Role       string `json:"role" enum:"ADMIN,WRITER,REVIEWER"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
}

type UpdateUserRequest struct {
	Role     *string `json:"role,omitempty" enum:"ADMIN,WRITER,REVIEWER"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateOrganizationRequest struct {
	Kind    string `json:"kind" enum:"moa,moe"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

type CreateProjectRequest struct {
	ID                string   `json:"id,omitempty"`
	Name              string   `json:"name"`
	MOEID             *string  `json:"moe_id,omitempty"`
	MOAID             *string  `json:"moa_id,omitempty"`
	OfferDeliveryDate *string  `json:"offer_delivery_date,omitempty" format:"date"`
	DocumentTypes     []string `json:"document_types,omitempty"`
}

type DeleteProjectRequest struct {
	Password string `json:"password"`
}

type AddDocumentsRequest struct {
	DocumentTypes []string `json:"document_types"`
}

type TransitionRequest struct {
	Status string `json:"status"`
}

type CommentRequest struct {
	Content            string `json:"content"`
	RequiresCorrection bool   `json:"requires_correction,omitempty"`
}

type AssignmentRequest struct {
	WriterID   *string `json:"writer_id,omitempty"`
	ReviewerID *string `json:"reviewer_id,omitempty"`
}

type ContentRequest struct {
	Content string `json:"content"`
}

type AnalyzeTextRequest struct {
	Text string `json:"text"`
}

type LibraryItemRequest struct {
	Category string   `json:"category" enum:"texte,tableau,photo,document_technique,signalisation,procedure,fiche_technique"`
	Title    string   `json:"title"`
	Content  string   `json:"content,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type InsertLibraryItemRequest struct {
	ItemID string `json:"item_id"`
}

// Response payloads

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at" format:"date-time"`
	User      domain.User `json:"user"`
}

type MeResponse struct {
	User         domain.User `json:"user"`
	Source       string      `json:"source"`
	Capabilities []string    `json:"capabilities"`
}

type APIKeyResponse struct {
	domain.APIKey
	// Key is only returned once, at creation.
	Key string `json:"key,omitempty"`
}

type ProjectResponse struct {
	domain.Project
	Documents []domain.ProjectDocument `json:"documents,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type CallbackResponse struct {
	Error int `json:"error"`
}

func libraryInput(r LibraryItemRequest) engine.LibraryItemInput {
	return engine.LibraryItemInput{
		Category: r.Category,
		Title:    r.Title,
		Content:  r.Content,
		Tags:     r.Tags,
	}
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
