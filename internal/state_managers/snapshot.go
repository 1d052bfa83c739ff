package state_managers

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/models"
	"github.com/benmeehan/iot-sync/pkg/file"
)

// ScheduleSnapshotStore persists the schedule collection between restarts.
type ScheduleSnapshotStore interface {
	LoadState() (map[string]models.Schedule, error)
	SaveState(states map[string]models.Schedule) error
}

// FileSnapshotStore keeps the schedule collection in a JSON state file.
type FileSnapshotStore struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewFileSnapshotStore initializes a new FileSnapshotStore
func NewFileSnapshotStore(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *FileSnapshotStore {
	return &FileSnapshotStore{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
	}
}

// LoadState reads the schedule state from the file. A missing file is an empty state.
func (sm *FileSnapshotStore) LoadState() (map[string]models.Schedule, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	exists, err := sm.fileClient.IsFileExists(sm.filePath)
	if err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to stat state file")
		return nil, err
	}
	if !exists {
		return make(map[string]models.Schedule), nil
	}

	states := make(map[string]models.Schedule)
	if err := sm.fileClient.ReadJsonFile(sm.filePath, &states); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to read state file")
		return nil, err
	}
	return states, nil
}

// SaveState writes the schedule state to the file
func (sm *FileSnapshotStore) SaveState(states map[string]models.Schedule) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.fileClient.WriteJsonFile(sm.filePath, states); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to write state file")
		return err
	}
	return nil
}

// ReadDeviceFile reads the provisioned device list from a JSON array file.
func ReadDeviceFile(filePath string, fileClient file.FileOperations) ([]models.Device, error) {
	exists, err := fileClient.IsFileExists(filePath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("device file %s: %w", filePath, os.ErrNotExist)
	}

	var devices []models.Device
	if err := fileClient.ReadJsonFile(filePath, &devices); err != nil {
		return nil, fmt.Errorf("device file %s: %w", filePath, err)
	}
	return devices, nil
}
