package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity/types"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/pkg/file"
)

// ErrIdentityUnavailable is returned when no credentials could be obtained
// from the identity pool.
var ErrIdentityUnavailable = errors.New("identity credentials unavailable")

// Provider hands out short-lived AWS credentials. It is satisfied by any
// aws.CredentialsProvider.
type Provider = aws.CredentialsProvider

// CognitoAPI is the subset of the Cognito Identity client used here.
type CognitoAPI interface {
	GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error)
	GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error)
}

// Identity is the persisted identity record.
type Identity struct {
	IdentityID string `json:"identity_id,omitempty"`
	PoolID     string `json:"identity_pool_id,omitempty"`
}

// CognitoProvider exchanges an unauthenticated Cognito identity for
// temporary credentials. The identity id is cached in memory and, when
// IdentityFile is set, on disk.
type CognitoProvider struct {
	PoolID       string
	IdentityFile string

	client  CognitoAPI
	fileOps file.FileOperations
	logger  zerolog.Logger

	mu       sync.Mutex
	identity Identity
	loaded   bool
}

// NewCognitoClient builds an anonymous Cognito Identity client for region.
func NewCognitoClient(ctx context.Context, region string) (*cognitoidentity.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return cognitoidentity.NewFromConfig(cfg), nil
}

// NewCognitoProvider creates a provider for the given identity pool.
func NewCognitoProvider(poolID, identityFile string, client CognitoAPI, fileOps file.FileOperations, logger zerolog.Logger) *CognitoProvider {
	return &CognitoProvider{
		PoolID:       poolID,
		IdentityFile: identityFile,
		client:       client,
		fileOps:      fileOps,
		logger:       logger,
	}
}

// IdentityID returns the cached identity id, if any.
func (p *CognitoProvider) IdentityID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity.IdentityID
}

// Retrieve implements aws.CredentialsProvider. A stale identity id is dropped
// and resolved again once.
func (p *CognitoProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, err := p.fetchLocked(ctx)
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		p.logger.Warn().Str("identity_id", p.identity.IdentityID).Msg("Cached identity no longer exists, resolving a new one")
		p.identity = Identity{}
		p.saveLocked()
		creds, err = p.fetchLocked(ctx)
	}
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	return creds, nil
}

func (p *CognitoProvider) fetchLocked(ctx context.Context) (aws.Credentials, error) {
	id, err := p.identityLocked(ctx)
	if err != nil {
		return aws.Credentials{}, err
	}

	out, err := p.client.GetCredentialsForIdentity(ctx, &cognitoidentity.GetCredentialsForIdentityInput{
		IdentityId: aws.String(id),
	})
	if err != nil {
		return aws.Credentials{}, err
	}
	if out.Credentials == nil || aws.ToString(out.Credentials.AccessKeyId) == "" || aws.ToString(out.Credentials.SecretKey) == "" {
		return aws.Credentials{}, errors.New("identity pool returned empty credentials")
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "CognitoIdentity",
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}

	p.logger.Debug().Str("identity_id", id).Time("expires", creds.Expires).Msg("Fetched identity credentials")
	return creds, nil
}

func (p *CognitoProvider) identityLocked(ctx context.Context) (string, error) {
	if !p.loaded {
		p.loadLocked()
		p.loaded = true
	}
	if p.identity.IdentityID != "" {
		return p.identity.IdentityID, nil
	}

	out, err := p.client.GetId(ctx, &cognitoidentity.GetIdInput{IdentityPoolId: aws.String(p.PoolID)})
	if err != nil {
		return "", err
	}
	id := aws.ToString(out.IdentityId)
	if id == "" {
		return "", errors.New("identity pool returned an empty identity id")
	}

	p.identity = Identity{IdentityID: id, PoolID: p.PoolID}
	p.saveLocked()
	p.logger.Info().Str("identity_id", id).Msg("Resolved identity")
	return id, nil
}

func (p *CognitoProvider) loadLocked() {
	if p.IdentityFile == "" || p.fileOps == nil {
		return
	}
	exists, err := p.fileOps.IsFileExists(p.IdentityFile)
	if err != nil || !exists {
		return
	}

	var stored Identity
	if err := p.fileOps.ReadJsonFile(p.IdentityFile, &stored); err != nil {
		p.logger.Warn().Err(err).Str("file", p.IdentityFile).Msg("Failed to read identity file")
		return
	}
	// An id from another pool is useless here.
	if stored.PoolID != "" && stored.PoolID != p.PoolID {
		return
	}
	p.identity = stored
}

func (p *CognitoProvider) saveLocked() {
	if p.IdentityFile == "" || p.fileOps == nil {
		return
	}
	if err := p.fileOps.WriteJsonFile(p.IdentityFile, p.identity); err != nil {
		p.logger.Warn().Err(err).Str("file", p.IdentityFile).Msg("Failed to save identity file")
	}
}

// NewStaticProvider returns a provider for fixed credentials.
func NewStaticProvider(accessKeyID, secretAccessKey, sessionToken string) Provider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
}
