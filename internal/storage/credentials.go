package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultSessionDuration is how long assumed-role credentials stay valid (1 hour).
const DefaultSessionDuration = 3600 // seconds

// STSAPI is the part of the STS client used to assume a role.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// AssumeRoleProvider implements [aws.CredentialsProvider] by assuming an IAM
// role. Wrap it in [aws.NewCredentialsCache] so STS is only called again
// when the credentials are about to expire.
type AssumeRoleProvider struct {
	Client          STSAPI
	RoleARN         string
	SessionName     string
	DurationSeconds int32
}

// Retrieve implements the aws.CredentialsProvider interface.
func (p *AssumeRoleProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return AssumeRole(ctx, p.Client, p.RoleARN, p.SessionName, p.DurationSeconds)
}

// AssumeRole assumes roleArn and converts the STS response into SDK credentials.
// The session name gets a timestamp suffix so concurrent processes stay
// distinguishable in CloudTrail.
func AssumeRole(ctx context.Context, client STSAPI, roleArn, sessionName string, durationSeconds int32) (aws.Credentials, error) {
	if roleArn == "" {
		return aws.Credentials{}, fmt.Errorf("role ARN cannot be empty")
	}
	if sessionName == "" {
		sessionName = "mediaupload"
	}
	if durationSeconds <= 0 {
		durationSeconds = DefaultSessionDuration
	}

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%d", sessionName, time.Now().Unix())),
		DurationSeconds: aws.Int32(durationSeconds),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume role %s: %w", roleArn, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assume role %s returned no credentials", roleArn)
	}

	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "AssumeRoleProvider",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}
