package server

import (
	"avcb/internal/domain"
	"avcb/internal/engine"
	"avcb/internal/identity"
	"avcb/internal/receita"
)

// Request payloads

type SignUpRequest struct {
	Email    string `json:"email" format:"email"`
	Password string `json:"password" minLength:"8"`
	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	CPF      string `json:"cpf,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreateProcessRequest struct {
	// UserID lets staff open a process on behalf of a citizen.
	UserID        string   `json:"user_id,omitempty"`
	CompanyName   string   `json:"company_name,omitempty"`
	TradeName     string   `json:"trade_name,omitempty"`
	CNPJ          string   `json:"cnpj" example:"11.222.333/0001-81"`
	Address       string   `json:"address,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	ZipCode       string   `json:"zip_code,omitempty"`
	ContactName   string   `json:"contact_name,omitempty"`
	ContactPhone  string   `json:"contact_phone,omitempty"`
	ContactEmail  string   `json:"contact_email,omitempty"`
	CNAEPrimary   string   `json:"cnae_primary,omitempty"`
	CNAESecondary []string `json:"cnae_secondary,omitempty"`
	BuiltArea     float64  `json:"built_area,omitempty"`
}

type ObservationRequest struct {
	Observation string `json:"observation,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type ResubmitRequest struct {
	FileURL       string `json:"file_url,omitempty"`
	Justification string `json:"justification"`
}

type DeleteProcessRequest struct {
	Confirm       bool   `json:"confirm"`
	ConfirmNumber string `json:"confirm_number"`
}

type StampRequest struct {
	FileURL string `json:"file_url,omitempty"`
}

type AttachDocumentRequest struct {
	Name    string       `json:"document_name"`
	Type    string       `json:"document_type,omitempty"`
	Stage   domain.Stage `json:"stage,omitempty" enum:"cadastro,triagem,vistoria,comissao,aprovacao"`
	FileURL string       `json:"file_url"`
}

// Response payloads

type MeResponse struct {
	UserID  string          `json:"user_id"`
	Email   string          `json:"email,omitempty"`
	Name    string          `json:"name,omitempty"`
	Source  string          `json:"source"`
	Roles   []string        `json:"roles"`
	Admin   bool            `json:"admin"`
	Profile *domain.Profile `json:"profile,omitempty"`
}

type FileResponse struct {
	URL string `json:"url"`
}

type processOutput struct {
	Body domain.Process `json:"body"`
}

type processListOutput struct {
	Body []domain.Process `json:"body"`
}

type detailOutput struct {
	Body engine.ProcessDetail `json:"body"`
}

type documentOutput struct {
	Body domain.ProcessDocument `json:"body"`
}

type documentListOutput struct {
	Body []domain.ProcessDocument `json:"body"`
}

type historyOutput struct {
	Body []domain.ProcessHistory `json:"body"`
}

type advanceOutput struct {
	Body engine.AdvanceResult `json:"body"`
}

type stampOutput struct {
	Body engine.StampResult `json:"body"`
}

type deleteOutput struct {
	Body engine.DeleteResult `json:"body"`
}

type sessionOutput struct {
	Body identity.Session `json:"body"`
}

type principalOutput struct {
	Body identity.Principal `json:"body"`
}

type meOutput struct {
	Body MeResponse `json:"body"`
}

type fileOutput struct {
	Body FileResponse `json:"body"`
}

type companyOutput struct {
	Body receita.Company `json:"body"`
}

type processPath struct {
	ID string `path:"id"`
}

type documentPath struct {
	ID string `path:"id"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
