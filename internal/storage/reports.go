// Package storage persists detection reports under the user config directory.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/peternagy/mongostate/internal/types"
)

// MaxHistory bounds the number of runs kept in history.json.
const MaxHistory = 20

// SavedReport is a report with the run it came from.
type SavedReport struct {
	RunID   string       `json:"runId"`
	SavedAt time.Time    `json:"savedAt"`
	Host    string       `json:"host"`
	Port    int          `json:"port"`
	Report  types.Report `json:"report"`
}

// ErrNoReport is returned when nothing has been saved yet.
var ErrNoReport = errors.New("no saved report")

// Service handles report persistence.
type Service struct {
	configDir string
}

// NewService creates a new storage service.
func NewService(configDir string) *Service {
	return &Service{configDir: configDir}
}

// InitConfigDir sets up the config directory.
func InitConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = os.Getenv("HOME")
	}
	dir := filepath.Join(configDir, "mongostate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config dir: %w", err)
	}
	return dir, nil
}

// LastReportFile returns the path to the last report file.
func (s *Service) LastReportFile() string {
	return filepath.Join(s.configDir, "last_report.json")
}

// HistoryFile returns the path to the history file.
func (s *Service) HistoryFile() string {
	return filepath.Join(s.configDir, "history.json")
}

// SaveReport writes the report as the last report and appends it to history,
// dropping the oldest entries beyond MaxHistory.
func (s *Service) SaveReport(saved SavedReport) error {
	if saved.SavedAt.IsZero() {
		saved.SavedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.LastReportFile(), data, 0600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	history, err := s.LoadHistory()
	if err != nil {
		return err
	}
	history = append(history, saved)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	return s.persistHistory(history)
}

// LoadLastReport loads the most recently saved report.
func (s *Service) LoadLastReport() (*SavedReport, error) {
	data, err := os.ReadFile(s.LastReportFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoReport
		}
		return nil, err
	}
	var saved SavedReport
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.LastReportFile(), err)
	}
	return &saved, nil
}

// LoadHistory loads saved runs, oldest first.
func (s *Service) LoadHistory() ([]SavedReport, error) {
	data, err := os.ReadFile(s.HistoryFile())
	if err != nil {
		if os.IsNotExist(err) {
			return []SavedReport{}, nil
		}
		return nil, err
	}
	var history []SavedReport
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.HistoryFile(), err)
	}
	return history, nil
}

func (s *Service) persistHistory(history []SavedReport) error {
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.HistoryFile(), data, 0600)
}
