package s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// assumeRole returns a provider that exchanges the base credentials for
// the archive role's temporary ones.
func assumeRole(base aws.Config, o *options) aws.CredentialsProvider {
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(base), o.roleARN, func(ro *stscreds.AssumeRoleOptions) {
		ro.RoleSessionName = o.roleSessionName
		if o.externalID != "" {
			ro.ExternalID = aws.String(o.externalID)
		}
	})
}
