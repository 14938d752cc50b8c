package domain

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleWriter   Role = "WRITER"
	RoleReviewer Role = "REVIEWER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleWriter, RoleReviewer:
		return true
	}
	return false
}

type DocumentStatus string

const (
	StatusDraft      DocumentStatus = "DRAFT"
	StatusReview1    DocumentStatus = "REVIEW_1"
	StatusCorrection DocumentStatus = "CORRECTION"
	StatusReview2    DocumentStatus = "REVIEW_2"
	StatusValidation DocumentStatus = "VALIDATION"
	StatusApproved   DocumentStatus = "APPROVED"
)

type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "PENDING"
	ProjectInProgress ProjectStatus = "IN_PROGRESS"
	ProjectCompleted  ProjectStatus = "COMPLETED"
	ProjectCancelled  ProjectStatus = "CANCELLED"
)

type OrganizationKind string

const (
	OrgMOA OrganizationKind = "moa"
	OrgMOE OrganizationKind = "moe"
)

type DocumentType struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	IsMandatory bool   `json:"is_mandatory"`
}

type Organization struct {
	ID        string           `json:"id"`
	Kind      OrganizationKind `json:"kind" enum:"moa,moe"`
	Name      string           `json:"name"`
	Address   string           `json:"address,omitempty"`
	LogoPath  string           `json:"logo_path,omitempty"`
	CreatedAt string           `json:"created_at" format:"date-time"`
}

type Project struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	MOEID             *string       `json:"moe_id,omitempty"`
	MOAID             *string       `json:"moa_id,omitempty"`
	OfferDeliveryDate *string       `json:"offer_delivery_date,omitempty" format:"date"`
	Status            ProjectStatus `json:"status" enum:"PENDING,IN_PROGRESS,COMPLETED,CANCELLED"`
	CreatedBy         string        `json:"created_by"`
	CreatedAt         string        `json:"created_at" format:"date-time"`
	UpdatedAt         string        `json:"updated_at" format:"date-time"`
	DeletedAt         *string       `json:"deleted_at,omitempty" format:"date-time"`
	DeletedBy         *string       `json:"deleted_by,omitempty"`
}

func (p Project) Deleted() bool { return p.DeletedAt != nil }

type ProjectDocument struct {
	ID                   string         `json:"id"`
	ProjectID            string         `json:"project_id"`
	DocumentType         string         `json:"document_type"`
	Status               DocumentStatus `json:"status" enum:"DRAFT,REVIEW_1,CORRECTION,REVIEW_2,VALIDATION,APPROVED"`
	Content              string         `json:"content"`
	WriterID             *string        `json:"writer_id,omitempty"`
	ReviewerID           *string        `json:"reviewer_id,omitempty"`
	CompletionPercentage float64        `json:"completion_percentage"`
	ReviewCycle          int            `json:"review_cycle"`
	NeedsCorrection      bool           `json:"needs_correction"`
	CreatedAt            string         `json:"created_at" format:"date-time"`
	UpdatedAt            string         `json:"updated_at" format:"date-time"`
}

type StatusHistoryEntry struct {
	ID         int64          `json:"id"`
	DocumentID string         `json:"document_id"`
	FromStatus DocumentStatus `json:"from_status"`
	ToStatus   DocumentStatus `json:"to_status"`
	UserID     string         `json:"user_id"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
}

type DocumentComment struct {
	ID                 string  `json:"id"`
	DocumentID         string  `json:"document_id"`
	AuthorID           string  `json:"author_id"`
	Content            string  `json:"content"`
	ReviewCycle        int     `json:"review_cycle"`
	RequiresCorrection bool    `json:"requires_correction"`
	Resolved           bool    `json:"resolved"`
	ResolvedBy         *string `json:"resolved_by,omitempty"`
	ResolvedAt         *string `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Role         Role   `json:"role" enum:"ADMIN,WRITER,REVIEWER"`
	Phone        string `json:"phone,omitempty"`
	Department   string `json:"department,omitempty"`
	PasswordHash string `json:"-"`
	IsSuperuser  bool   `json:"is_superuser"`
	IsActive     bool   `json:"is_active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Email
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReferenceDocument struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Kind       string `json:"kind" enum:"RC,CCTP"`
	Filename   string `json:"filename"`
	FilePath   string `json:"file_path"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type RCAnalysis struct {
	ID                  string `json:"id"`
	ProjectID           string `json:"project_id"`
	ReferenceDocumentID string `json:"reference_document_id,omitempty"`
	OutlineJSON         string `json:"outline_json"`
	CreatedBy           string `json:"created_by"`
	CreatedAt           string `json:"created_at" format:"date-time"`
}

type LibraryItem struct {
	ID        string   `json:"id"`
	Category  string   `json:"category" enum:"texte,tableau,photo,document_technique,signalisation,procedure,fiche_technique"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Version   int      `json:"version"`
	AuthorID  string   `json:"author_id"`
	Favorite  bool     `json:"favorite"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}
