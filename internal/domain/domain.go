package domain

type Stage string

const (
	StageCadastro  Stage = "cadastro"
	StageTriagem   Stage = "triagem"
	StageVistoria  Stage = "vistoria"
	StageComissao  Stage = "comissao"
	StageAprovacao Stage = "aprovacao"
	StageConcluido Stage = "concluido"
	StageExigencia Stage = "exigencia"
)

// OrderedStages is the pipeline order. Exigencia is not part of it.
var OrderedStages = []Stage{
	StageCadastro,
	StageTriagem,
	StageVistoria,
	StageComissao,
	StageAprovacao,
	StageConcluido,
}

func (s Stage) IsOrdered() bool {
	for _, o := range OrderedStages {
		if s == o {
			return true
		}
	}
	return false
}

func (s Stage) Valid() bool {
	return s == StageExigencia || s.IsOrdered()
}

func (s Stage) String() string { return string(s) }

type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepInProgress  StepStatus = "in_progress"
	StepCompleted   StepStatus = "completed"
	StepRejected    StepStatus = "rejected"
	StepResubmitted StepStatus = "resubmitted"
)

func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepRejected, StepResubmitted:
		return true
	}
	return false
}

const DocumentTypeFinalCertificate = "certificado_final"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

type Process struct {
	ID            string   `json:"id"`
	ProcessNumber string   `json:"process_number"`
	UserID        string   `json:"user_id"`
	CompanyName   string   `json:"company_name"`
	TradeName     string   `json:"trade_name,omitempty"`
	CNPJ          string   `json:"cnpj"`
	Address       string   `json:"address,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	ZipCode       string   `json:"zip_code,omitempty"`
	ContactName   string   `json:"contact_name"`
	ContactPhone  string   `json:"contact_phone,omitempty"`
	ContactEmail  string   `json:"contact_email,omitempty"`
	CNAEPrimary   string   `json:"cnae_primary,omitempty"`
	CNAESecondary []string `json:"cnae_secondary,omitempty"`
	RiskCategory  string   `json:"risk_category,omitempty"`
	BuiltArea     float64  `json:"built_area,omitempty"`
	FeeAmount     float64  `json:"fee_amount"`
	FeePaid       bool     `json:"fee_paid"`
	CurrentStatus Stage    `json:"current_status" enum:"cadastro,triagem,vistoria,comissao,aprovacao,concluido,exigencia"`
	PriorStage    Stage    `json:"prior_stage,omitempty"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type ProcessHistory struct {
	ID              string     `json:"id"`
	ProcessID       string     `json:"process_id"`
	Event           string     `json:"event,omitempty"`
	Status          Stage      `json:"status"`
	StepStatus      StepStatus `json:"step_status" enum:"pending,in_progress,completed,rejected,resubmitted"`
	Observations    string     `json:"observations,omitempty"`
	ResponsibleID   string     `json:"responsible_id,omitempty"`
	ResponsibleName string     `json:"responsible_name,omitempty"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
}

type ProcessDocument struct {
	ID                      string     `json:"id"`
	ProcessID               string     `json:"process_id"`
	UserID                  string     `json:"user_id,omitempty"`
	DocumentName            string     `json:"document_name"`
	DocumentType            string     `json:"document_type"`
	FileURL                 string     `json:"file_url,omitempty"`
	Status                  StepStatus `json:"status" enum:"pending,in_progress,completed,rejected,resubmitted"`
	RejectionReason         *string    `json:"rejection_reason"`
	CorrectionJustification *string    `json:"correction_justification"`
	ResubmittedAt           *string    `json:"resubmitted_at,omitempty" format:"date-time"`
	Stage                   Stage      `json:"stage"`
	Observations            string     `json:"observations,omitempty"`
	AvailableToUser         bool       `json:"available_to_user,omitempty"`
	StampedBy               string     `json:"stamped_by,omitempty"`
	StampedAt               *string    `json:"stamped_at,omitempty" format:"date-time"`
	CreatedAt               string     `json:"created_at" format:"date-time"`
	UpdatedAt               string     `json:"updated_at" format:"date-time"`
}

// EffectiveStage treats an untagged document as belonging to cadastro.
func (d ProcessDocument) EffectiveStage() Stage {
	if d.Stage == "" {
		return StageCadastro
	}
	return d.Stage
}

type Profile struct {
	ID        string `json:"id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	CPF       string `json:"cpf,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type UserRole struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Role      string `json:"role" enum:"admin,user"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Credential struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Actor attributes a mutation to a citizen or a named administrator.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
