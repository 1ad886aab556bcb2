package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"avcb/internal/domain"
)

// Config models avcb.yml.
type Config struct {
	Portal struct {
		ID        string `yaml:"id"`
		Authority string `yaml:"authority"`
	} `yaml:"portal"`
	Stages struct {
		Labels    map[string]string `yaml:"labels"`
		Deletable []string          `yaml:"deletable"`
	} `yaml:"stages"`
	Observations struct {
		Created   string `yaml:"created"`
		Advanced  string `yaml:"advanced"`
		Approved  string `yaml:"approved"`
		Attached  string `yaml:"attached"`
		Stamped   string `yaml:"stamped"`
		Deleted   string `yaml:"deleted"`
		FeePaid   string `yaml:"fee_paid"`
		Exigencia string `yaml:"exigencia"`
	} `yaml:"observations"`
	Stamping struct {
		Phrases      []string `yaml:"phrases"`
		DocumentName string   `yaml:"document_name"`
		Title        string   `yaml:"title"`
	} `yaml:"stamping"`
	Classification struct {
		DefaultRisk string     `yaml:"default_risk"`
		Rules       []RiskRule `yaml:"rules"`
	} `yaml:"classification"`
	Fees          map[string]float64 `yaml:"fees"`
	Notifications struct {
		OnApprove      bool `yaml:"on_approve"`
		OnReject       bool `yaml:"on_reject"`
		OnAdvance      bool `yaml:"on_advance"`
		OnStamp        bool `yaml:"on_stamp"`
		RecordFailures bool `yaml:"record_failures"`
	} `yaml:"notifications"`
}

// RiskRule maps a CNAE code prefix to a risk category. Longest prefix wins.
type RiskRule struct {
	Prefix string `yaml:"prefix"`
	Risk   string `yaml:"risk"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with avcb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Portal.ID == "" {
		return fmt.Errorf("config.portal.id is required")
	}
	for _, s := range domain.OrderedStages {
		if strings.TrimSpace(c.Stages.Labels[string(s)]) == "" {
			return fmt.Errorf("config.stages.labels.%s is required", s)
		}
	}
	for label := range c.Stages.Labels {
		if !domain.Stage(label).Valid() {
			return fmt.Errorf("config.stages.labels has unknown stage %s", label)
		}
	}
	for _, s := range c.Stages.Deletable {
		if !domain.Stage(s).IsOrdered() {
			return fmt.Errorf("config.stages.deletable has unknown stage %s", s)
		}
	}
	for i, p := range c.Stamping.Phrases {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config.stamping.phrases[%d] is empty", i)
		}
	}
	if c.Classification.DefaultRisk == "" {
		return fmt.Errorf("config.classification.default_risk is required")
	}
	if _, ok := c.Fees[c.Classification.DefaultRisk]; !ok {
		return fmt.Errorf("default risk %s has no fee", c.Classification.DefaultRisk)
	}
	for _, rule := range c.Classification.Rules {
		if rule.Prefix == "" {
			return fmt.Errorf("classification rule for %s has empty prefix", rule.Risk)
		}
		if _, ok := c.Fees[rule.Risk]; !ok {
			return fmt.Errorf("classification rule %s references risk %s without fee", rule.Prefix, rule.Risk)
		}
	}
	for risk, fee := range c.Fees {
		if fee < 0 {
			return fmt.Errorf("fee for risk %s is negative", risk)
		}
	}
	return nil
}

// StageLabel returns the human label of a stage, falling back to its raw value.
func (c *Config) StageLabel(s domain.Stage) string {
	if c != nil {
		if label, ok := c.Stages.Labels[string(s)]; ok && label != "" {
			return label
		}
	}
	return string(s)
}

// IsDeletable reports whether a process in stage s may still be removed by its owner.
func (c *Config) IsDeletable(s domain.Stage) bool {
	for _, d := range c.Stages.Deletable {
		if domain.Stage(d) == s {
			return true
		}
	}
	return false
}

// RiskFor picks the risk category for a set of CNAE codes. The highest fee wins
// when codes match different rules.
func (c *Config) RiskFor(codes ...string) string {
	risk := c.Classification.DefaultRisk
	for _, code := range codes {
		code = strings.NewReplacer(".", "", "-", "", "/", "").Replace(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		best := ""
		matched := ""
		for _, rule := range c.Classification.Rules {
			if strings.HasPrefix(code, rule.Prefix) && len(rule.Prefix) > len(best) {
				best = rule.Prefix
				matched = rule.Risk
			}
		}
		if matched != "" && c.Fees[matched] > c.Fees[risk] {
			risk = matched
		}
	}
	return risk
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "avcb.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portalID string) string {
	return fmt.Sprintf(defaultTemplate, portalID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a portal.
func Default(portalID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, portalID))).Decode(&cfg)
	cfg.Portal.ID = portalID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `portal:
  id: %s
  authority: "Corpo de Bombeiros Militar"

stages:
  labels:
    cadastro: "Cadastro"
    triagem: "Triagem"
    vistoria: "Vistoria"
    comissao: "Comissão Técnica"
    aprovacao: "Aprovação"
    concluido: "Concluído"
    exigencia: "Exigência"
  deletable: [cadastro]

observations:
  created: "Processo cadastrado pelo requerente"
  advanced: "Etapa aprovada pela administração"
  approved: "Documento aprovado"
  attached: "Documento enviado"
  stamped: "Certificado final liberado ao requerente"
  deleted: "Processo excluído pelo requerente"
  fee_paid: "Taxa de vistoria confirmada"
  exigencia: "Documento rejeitado; processo em exigência"

stamping:
  document_name: "Certificado de Vistoria (AVCB)"
  title: "Auto de Vistoria do Corpo de Bombeiros"
  phrases:
    - "certificado final liberado"
    - "carimbo digital aplicado"
    - "avcb emitido"

classification:
  default_risk: baixo
  rules:
    - prefix: "19"
      risk: alto
    - prefix: "20"
      risk: alto
    - prefix: "4731"
      risk: alto
    - prefix: "10"
      risk: medio
    - prefix: "47"
      risk: medio
    - prefix: "56"
      risk: medio
    - prefix: "86"
      risk: medio

fees:
  baixo: 0
  medio: 185.40
  alto: 412.75

notifications:
  on_approve: true
  on_reject: true
  on_advance: true
  on_stamp: true
  record_failures: true
`
