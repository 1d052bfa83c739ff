package state_managers

import (
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/iot-sync/internal/constants"
	"github.com/benmeehan/iot-sync/internal/models"
)

// BlockModeStateManager keeps the operating mode of each block.
type BlockModeStateManager struct {
	modes  cmap.ConcurrentMap[string, string]
	logger zerolog.Logger
}

func NewBlockModeStateManager(logger zerolog.Logger) *BlockModeStateManager {
	return &BlockModeStateManager{
		modes:  cmap.New[string](),
		logger: logger,
	}
}

// Apply records the block's mode. Unknown modes are ignored.
func (m *BlockModeStateManager) Apply(u models.BlockModeUpdate) bool {
	mode := strings.ToUpper(strings.TrimSpace(u.Mode))
	if u.BlockID == "" || (mode != constants.BlockModeAuto && mode != constants.BlockModeManual) {
		m.logger.Warn().Str("block_id", u.BlockID).Str("mode", u.Mode).Msg("Invalid block mode update, ignoring")
		return false
	}
	m.modes.Set(u.BlockID, mode)
	return true
}

func (m *BlockModeStateManager) Get(blockID string) (string, bool) {
	return m.modes.Get(blockID)
}

// Modes returns a copy of the block mode map.
func (m *BlockModeStateManager) Modes() map[string]string {
	return m.modes.Items()
}
