package engine

import (
	"bytes"
	"html/template"
	"time"

	"avcb/internal/domain"
	"avcb/internal/receita"
)

var certificateTemplate = template.Must(template.New("certificado").Parse(`<!doctype html>
<html lang="pt-BR">
<head><meta charset="utf-8"><title>{{.Title}} {{.Process.ProcessNumber}}</title></head>
<body style="font-family:serif;max-width:720px;margin:auto">
<h3>{{.Authority}}</h3>
<h1>{{.Title}}</h1>
<p>Processo nº <strong>{{.Process.ProcessNumber}}</strong></p>
<table>
<tr><td>Razão social</td><td>{{.Process.CompanyName}}</td></tr>
{{if .Process.TradeName}}<tr><td>Nome fantasia</td><td>{{.Process.TradeName}}</td></tr>{{end}}
<tr><td>CNPJ</td><td>{{.CNPJ}}</td></tr>
<tr><td>Endereço</td><td>{{.Process.Address}}{{if .Process.City}} - {{.Process.City}}/{{.Process.State}}{{end}}</td></tr>
<tr><td>Classificação de risco</td><td>{{.Process.RiskCategory}}</td></tr>
{{if .Process.BuiltArea}}<tr><td>Área construída</td><td>{{printf "%.2f" .Process.BuiltArea}} m²</td></tr>{{end}}
</table>
<p>Emitido em {{.IssuedAt}} por {{.StampedBy}}.</p>
<p style="font-family:monospace">Código de verificação: {{.Code}}</p>
</body>
</html>
`))

type certificateData struct {
	Authority string
	Title     string
	Process   domain.Process
	CNPJ      string
	IssuedAt  string
	StampedBy string
	Code      string
}

func (e Engine) renderCertificate(p domain.Process, actor domain.Actor, at time.Time) ([]byte, error) {
	stampedBy := actor.Name
	if stampedBy == "" {
		stampedBy = actor.ID
	}
	code := p.ProcessNumber
	if len(p.ID) >= 8 {
		code += "-" + p.ID[len(p.ID)-8:]
	}
	var buf bytes.Buffer
	err := certificateTemplate.Execute(&buf, certificateData{
		Authority: e.Config.Portal.Authority,
		Title:     e.Config.Stamping.Title,
		Process:   p,
		CNPJ:      receita.FormatCNPJ(p.CNPJ),
		IssuedAt:  at.UTC().Format("02/01/2006 15:04 MST"),
		StampedBy: stampedBy,
		Code:      code,
	})
	return buf.Bytes(), err
}
