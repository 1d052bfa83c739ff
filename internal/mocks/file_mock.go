package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockFileOperations is a mock implementation of the FileOperations interface
type MockFileOperations struct {
	mock.Mock
}

func (m *MockFileOperations) IsFileExists(filePath string) (bool, error) {
	args := m.Called(filePath)
	return args.Bool(0), args.Error(1)
}

func (m *MockFileOperations) ReadJsonFile(filePath string, v any) error {
	args := m.Called(filePath, v)
	return args.Error(0)
}

func (m *MockFileOperations) ReadYamlFile(filePath string, v any) error {
	args := m.Called(filePath, v)
	return args.Error(0)
}

func (m *MockFileOperations) WriteJsonFile(filePath string, data any) error {
	args := m.Called(filePath, data)
	return args.Error(0)
}
