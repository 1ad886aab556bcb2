package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avcb/internal/config"
	"avcb/internal/engine"
	"avcb/internal/identity"
	"avcb/internal/notify"
	"avcb/internal/storage"
)

func TestBuildDefaultsToWorkspaceSQLite(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	a, err := Build(ctx, Settings{Workspace: ws, JWTSecret: "secret"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.IsType(t, identity.Local{}, a.Identity)
	assert.IsType(t, notify.Noop{}, a.Engine.Notifier)
	assert.Equal(t, storage.Local{Root: filepath.Join(ws, ".avcb", "files")}, a.Engine.Files)
	assert.Nil(t, a.Engine.Companies)
	assert.FileExists(t, filepath.Join(ws, ".avcb", "avcb.db"))

	p, err := a.Engine.CreateProcess(ctx, engine.CreateProcessInput{
		UserID:      "u1",
		CompanyName: "Padaria",
		CNPJ:        "11222333000181",
		ContactName: "Ana",
	})
	require.NoError(t, err)
	got, err := a.Engine.Repo.GetProcess(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ProcessNumber, got.ProcessNumber)
}

func TestBuildReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(config.GenerateDefault("cbm-sp")), 0o644))
	a, err := Build(context.Background(), Settings{Workspace: ws, JWTSecret: "secret"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.Equal(t, "cbm-sp", a.Engine.Config.Portal.ID)
}

func TestBuildRejectsBadSettings(t *testing.T) {
	ctx := context.Background()
	cases := map[string]Settings{
		"no secret":       {Workspace: t.TempDir()},
		"unknown store":   {Workspace: t.TempDir(), JWTSecret: "s", Store: "mongo"},
		"remote no url":   {Workspace: t.TempDir(), JWTSecret: "s", Store: "remote"},
		"unknown driver":  {Workspace: t.TempDir(), JWTSecret: "s", Driver: "oracle"},
		"cognito no pool": {Workspace: t.TempDir(), Identity: "cognito"},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(ctx, s, nil)
			assert.Error(t, err)
		})
	}
}

func TestNotifierSelection(t *testing.T) {
	b := &builder{s: Settings{WebhookURL: "http://hook"}}
	assert.IsType(t, notify.Webhook{}, b.notifier())

	b.s.SMTPHost = "smtp.example.com"
	multi, ok := b.notifier().(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 2)
}

type fakeSSM struct {
	pages [][]types.Parameter
}

func (f *fakeSSM) GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, _ ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error) {
	i := 0
	if in.NextToken != nil {
		i = 1
	}
	out := &ssm.GetParametersByPathOutput{Parameters: f.pages[i]}
	if i+1 < len(f.pages) {
		out.NextToken = aws.String("next")
	}
	return out, nil
}

func TestExportSSMParameters(t *testing.T) {
	t.Setenv("AVCB_TEST_KEEP", "local")
	os.Unsetenv("AVCB_TEST_SECRET")
	os.Unsetenv("AVCB_TEST_BUCKET")
	t.Cleanup(func() {
		os.Unsetenv("AVCB_TEST_SECRET")
		os.Unsetenv("AVCB_TEST_BUCKET")
	})
	client := &fakeSSM{pages: [][]types.Parameter{
		{{Name: aws.String("/avcb/prod/AVCB_TEST_SECRET"), Value: aws.String("s3cret")}},
		{
			{Name: aws.String("/avcb/prod/AVCB_TEST_BUCKET"), Value: aws.String("docs")},
			{Name: aws.String("/avcb/prod/AVCB_TEST_KEEP"), Value: aws.String("remote")},
		},
	}}
	n, err := ExportSSMParameters(context.Background(), client, "/avcb/prod", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "s3cret", os.Getenv("AVCB_TEST_SECRET"))
	assert.Equal(t, "docs", os.Getenv("AVCB_TEST_BUCKET"))
	assert.Equal(t, "local", os.Getenv("AVCB_TEST_KEEP"))
}
