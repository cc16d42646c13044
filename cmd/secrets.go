package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
)

// Static errors for credential resolution; both are fatal at Init.
var (
	ErrSecretNotFound     = errors.New("secret not found")
	ErrSecretAccessDenied = errors.New("secret access denied")
	ErrResolverInvalid    = errors.New("secrets provider must be one of: ssm, env")
)

// Fixed secret names. Passwords are never carried in configuration.
const (
	secretSFTPPassword = "sftp_password"
	secretSQLPassword  = "sql_password"
	secretSMTPPassword = "smtp_password"
)

// SecretResolver fetches credentials at run time. Resolution is lazy: only
// the secrets the active source/sink combination needs are requested.
type SecretResolver interface {
	Get(ctx context.Context, name string) (string, error)
}

// newSecretResolver builds the resolver named by the config.
func newSecretResolver(config SecretsConfig) (SecretResolver, error) {
	switch config.Provider {
	case "ssm", "":
		return NewSSMResolver(config.Region)
	case "env":
		return &EnvResolver{}, nil
	default:
		return nil, fmt.Errorf("%w, got '%s'", ErrResolverInvalid, config.Provider)
	}
}

// SSMResolver reads SecureString parameters from AWS Systems Manager
// Parameter Store.
type SSMResolver struct {
	client *ssm.SSM
}

func NewSSMResolver(region string) (*SSMResolver, error) {
	awsConfig := aws.NewConfig()
	if region != "" {
		awsConfig = awsConfig.WithRegion(region)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &SSMResolver{client: ssm.New(sess)}, nil
}

func (r *SSMResolver) Get(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case ssm.ErrCodeParameterNotFound:
				return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
			case "AccessDeniedException", "AccessDenied":
				return "", fmt.Errorf("%w: %s", ErrSecretAccessDenied, name)
			}
		}
		return "", fmt.Errorf("failed to fetch secret %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from the environment for local and dev runs:
// sftp_password becomes ETL_SFTP_PASSWORD.
type EnvResolver struct{}

func (r *EnvResolver) Get(_ context.Context, name string) (string, error) {
	key := "ETL_" + strings.ToUpper(name)
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrSecretNotFound, name, key)
	}
	return value, nil
}
