package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"
)

// SSMAPI is the Parameter Store call used to load settings.
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, opts ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// ExportSSMParameters sets one environment variable per parameter under path,
// named after the parameter with the path prefix removed. Variables already
// set in the environment win.
func ExportSSMParameters(ctx context.Context, client SSMAPI, path string, logger *zap.Logger) (int, error) {
	prefix := strings.TrimRight(path, "/") + "/"
	pages := ssm.NewGetParametersByPathPaginator(client, &ssm.GetParametersByPathInput{
		Path:           aws.String(path),
		WithDecryption: aws.Bool(true),
		Recursive:      aws.Bool(true),
	})
	n := 0
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return n, fmt.Errorf("read parameters under %s: %w", path, err)
		}
		for _, p := range page.Parameters {
			key := strings.ReplaceAll(strings.TrimPrefix(aws.ToString(p.Name), prefix), "/", "_")
			if key == "" {
				continue
			}
			if _, set := os.LookupEnv(key); set {
				continue
			}
			if err := os.Setenv(key, aws.ToString(p.Value)); err != nil {
				return n, err
			}
			n++
		}
	}
	if logger != nil {
		logger.Debug("loaded parameters", zap.String("path", path), zap.Int("count", n))
	}
	return n, nil
}

// LoadSSMEnv exports the parameters under path using the default AWS chain.
func LoadSSMEnv(ctx context.Context, path, region string, logger *zap.Logger) (int, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("load aws config: %w", err)
	}
	return ExportSSMParameters(ctx, ssm.NewFromConfig(cfg), path, logger)
}
