package mocks

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentity"
	"github.com/stretchr/testify/mock"
)

// MockCognitoAPI is a mock implementation of the identity.CognitoAPI interface
type MockCognitoAPI struct {
	mock.Mock
}

func (m *MockCognitoAPI) GetId(ctx context.Context, params *cognitoidentity.GetIdInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetIdOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*cognitoidentity.GetIdOutput)
	return out, args.Error(1)
}

func (m *MockCognitoAPI) GetCredentialsForIdentity(ctx context.Context, params *cognitoidentity.GetCredentialsForIdentityInput, optFns ...func(*cognitoidentity.Options)) (*cognitoidentity.GetCredentialsForIdentityOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*cognitoidentity.GetCredentialsForIdentityOutput)
	return out, args.Error(1)
}
