// Package secrets resolves connection strings kept out of the process
// environment, currently from SSM Parameter Store SecureStrings.
package secrets

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-login/internal/xerrors"
)

// ParameterGetter is the slice of the SSM client the resolver needs.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

type SSMResolver struct {
	client ParameterGetter
}

func NewSSMResolver(client ParameterGetter) *SSMResolver {
	return &SSMResolver{client: client}
}

// LoadSSMResolver builds a resolver from the default AWS credential chain.
func LoadSSMResolver(ctx context.Context) (*SSMResolver, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Wrap(err, "load AWS config")
	}
	return NewSSMResolver(ssm.NewFromConfig(awsCfg)), nil
}

// Resolve returns the decrypted, trimmed value of the named parameter. The
// value never appears in returned errors.
func (r *SSMResolver) Resolve(ctx context.Context, name string) (string, error) {
	if r == nil || r.client == nil {
		return "", xerrors.New("ssm resolver not configured")
	}
	if strings.TrimSpace(name) == "" {
		return "", xerrors.New("ssm parameter name is required")
	}

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", name)
	}

	v := strings.TrimSpace(*out.Parameter.Value)
	if v == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", name)
	}
	return v, nil
}

// Or returns fallback when name is empty, otherwise the resolved value. A nil
// resolver is fine when name is empty.
func (r *SSMResolver) Or(ctx context.Context, name, fallback string) (string, error) {
	if name == "" {
		return fallback, nil
	}
	return r.Resolve(ctx, name)
}
