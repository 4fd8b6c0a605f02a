package shift

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

type persistedState struct {
	CurrentGear int `json:"current_gear"`
}

// Persistence remembers the last-known gear across restarts, following the
// small load-on-construct/save-on-write JSON file pattern used elsewhere in
// this codebase for local UI state.
type Persistence struct {
	filePath string
	logger   *log.Logger
}

// NewPersistence opens ~/.kickrbridge/gear_state.json, creating it lazily on
// first Save.
func NewPersistence(logger *log.Logger) *Persistence {
	if logger == nil {
		panic("shift.NewPersistence: logger cannot be nil")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return &Persistence{
		filePath: filepath.Join(homeDir, ".kickrbridge", "gear_state.json"),
		logger:   logger,
	}
}

// Load returns the last-persisted gear, or DefaultGear if no file exists or
// it fails to parse.
func (p *Persistence) Load() int {
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("shift: persistence load %s (no existing file)", p.filePath)
		return DefaultGear
	}
	var data persistedState
	if err := json.Unmarshal(raw, &data); err != nil {
		p.logger.Printf("shift: persistence load %s failed to parse: %v", p.filePath, err)
		return DefaultGear
	}
	if data.CurrentGear < 0 || data.CurrentGear >= GearCount {
		p.logger.Printf("shift: persistence load %s has out-of-range gear %d", p.filePath, data.CurrentGear)
		return DefaultGear
	}
	return data.CurrentGear
}

// Save writes the current gear so the next startup resumes from it.
func (p *Persistence) Save(gear int) {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("shift: persistence save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(persistedState{CurrentGear: gear}, "", "  ")
	if err != nil {
		p.logger.Printf("shift: persistence save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("shift: persistence save %s failed: %v", p.filePath, err)
		return
	}
}
