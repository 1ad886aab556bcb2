package receita

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotFound = errors.New("company not found")

const DefaultBaseURL = "https://minhareceita.org/"

// Company is the registry data used to prefill a process.
type Company struct {
	CNPJ          string   `json:"cnpj"`
	LegalName     string   `json:"legal_name"`
	TradeName     string   `json:"trade_name,omitempty"`
	LegalNature   string   `json:"legal_nature,omitempty"`
	Size          string   `json:"size,omitempty"`
	Status        string   `json:"status,omitempty"`
	Address       string   `json:"address,omitempty"`
	City          string   `json:"city,omitempty"`
	State         string   `json:"state,omitempty"`
	ZipCode       string   `json:"zip_code,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	CNAEPrimary   string   `json:"cnae_primary,omitempty"`
	CNAESecondary []string `json:"cnae_secondary,omitempty"`
	Partners      []string `json:"partners,omitempty"`
}

// Lookup finds a company by CNPJ.
type Lookup interface {
	GetByCNPJ(ctx context.Context, cnpj string) (Company, error)
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient() *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) GetByCNPJ(ctx context.Context, cnpj string) (Company, error) {
	digits := NormalizeCNPJ(cnpj)
	if !ValidCNPJ(digits) {
		return Company{}, fmt.Errorf("invalid cnpj %q", cnpj)
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/"+url.PathEscape(digits), nil)
	if err != nil {
		return Company{}, err
	}
	req.Header.Set("Accept", "application/json")
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Company{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Company{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return Company{}, fmt.Errorf("minhareceita failed with status code: %d", resp.StatusCode)
	}
	var company companyResponse
	if err := json.NewDecoder(resp.Body).Decode(&company); err != nil {
		return Company{}, fmt.Errorf("decode company: %w", err)
	}
	return company.toCompany(), nil
}

type companyResponse struct {
	CNPJ               string `json:"cnpj"`
	LegalName          string `json:"razao_social"`
	TradeName          string `json:"nome_fantasia"`
	LegalNature        string `json:"natureza_juridica"`
	CompanySize        string `json:"porte"`
	RegistrationStatus string `json:"descricao_situacao_cadastral"`

	AddressType         string `json:"descricao_tipo_de_logradouro"`
	AddressStreetName   string `json:"logradouro"`
	AddressNumber       string `json:"numero"`
	AddressComplement   string `json:"complemento"`
	AddressNeighborhood string `json:"bairro"`
	AddressCity         string `json:"municipio"`
	AddressState        string `json:"uf"`
	ZipCode             string `json:"cep"`
	Phone               string `json:"ddd_telefone_1"`
	Email               string `json:"email"`

	CNAE           int                `json:"cnae_fiscal"`
	SecondaryCNAEs []secondaryCNAE    `json:"cnaes_secundarios"`
	Partners       []*partnerResponse `json:"qsa"`
}

type secondaryCNAE struct {
	Code int `json:"codigo"`
}

type partnerResponse struct {
	Name string `json:"nome_socio"`
}

func (c companyResponse) toCompany() Company {
	out := Company{
		CNPJ:        NormalizeCNPJ(c.CNPJ),
		LegalName:   c.LegalName,
		TradeName:   c.TradeName,
		LegalNature: c.LegalNature,
		Size:        c.CompanySize,
		Status:      strings.ToUpper(c.RegistrationStatus),
		City:        c.AddressCity,
		State:       c.AddressState,
		ZipCode:     c.ZipCode,
		Phone:       c.Phone,
		Email:       strings.ToLower(c.Email),
	}
	var addr []string
	street := strings.TrimSpace(strings.Join([]string{c.AddressType, c.AddressStreetName}, " "))
	for _, part := range []string{street, c.AddressNumber, c.AddressComplement, c.AddressNeighborhood} {
		if p := strings.TrimSpace(part); p != "" {
			addr = append(addr, p)
		}
	}
	out.Address = strings.Join(addr, ", ")
	if c.CNAE > 0 {
		out.CNAEPrimary = formatCNAE(c.CNAE)
	}
	for _, s := range c.SecondaryCNAEs {
		if s.Code > 0 {
			out.CNAESecondary = append(out.CNAESecondary, formatCNAE(s.Code))
		}
	}
	for _, p := range c.Partners {
		if p != nil && p.Name != "" {
			out.Partners = append(out.Partners, p.Name)
		}
	}
	return out
}

// formatCNAE renders a 7-digit CNAE subclass as 0000-0/00.
func formatCNAE(code int) string {
	s := fmt.Sprintf("%07d", code)
	return s[0:4] + "-" + s[4:5] + "/" + s[5:7]
}
