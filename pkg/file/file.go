package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileOperations defines the file helpers used for configuration and state files.
type FileOperations interface {
	IsFileExists(filePath string) (bool, error)
	ReadJsonFile(filePath string, v any) error
	ReadYamlFile(filePath string, v any) error
	WriteJsonFile(filePath string, data any) error
}

// FileService implements FileOperations on the local filesystem.
type FileService struct{}

// NewFileService creates a new instance of FileService.
func NewFileService() *FileService {
	return &FileService{}
}

// IsFileExists reports whether filePath exists. Permission errors are returned as-is.
func (s *FileService) IsFileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// ReadJsonFile reads and unmarshals JSON data from the given file.
func (s *FileService) ReadJsonFile(filePath string, v any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewDecoder(f).Decode(v)
}

// ReadYamlFile reads and unmarshals YAML data from the given file.
func (s *FileService) ReadYamlFile(filePath string, v any) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	return yaml.NewDecoder(f).Decode(v)
}

// WriteJsonFile writes data as indented JSON, replacing filePath atomically.
func (s *FileService) WriteJsonFile(filePath string, data any) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}

	return os.Rename(tmpName, filePath)
}
