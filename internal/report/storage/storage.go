package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petr-muller/bzreport/internal/report"
)

// Store handles persistent storage of generated reports
type Store struct {
	dataDir string
}

// ReportListItem summarizes a stored report
type ReportListItem struct {
	Name    string
	Title   string
	Created time.Time
	Tables  int
	Bugs    int
}

// NewStore creates a new storage instance
func NewStore(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
	}
}

// ensureDataDir creates the data directory if it doesn't exist
func (s *Store) ensureDataDir() error {
	return os.MkdirAll(s.dataDir, 0755)
}

// reportFilePath returns the file path for a given report name
func (s *Store) reportFilePath(name string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.yaml", name))
}

// Save stores the report, replacing the previous run of the same report
func (s *Store) Save(r *report.Report) error {
	if r.Name == "" || strings.ContainsAny(r.Name, `/\`) {
		return fmt.Errorf("invalid report name %q", r.Name)
	}
	if err := s.ensureDataDir(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(s.reportFilePath(r.Name), data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	return nil
}

// Load loads a report from storage, returns nil when it was never stored
func (s *Store) Load(name string) (*report.Report, error) {
	data, err := os.ReadFile(s.reportFilePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r report.Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &r, nil
}

// Exists checks if a report exists in storage
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.reportFilePath(name))
	return err == nil
}

// List returns all stored report names, sorted
func (s *Store) List() ([]string, error) {
	if err := s.ensureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".yaml"))
		}
	}
	sort.Strings(names)

	return names, nil
}

// ListDetailed returns all stored reports with their details
func (s *Store) ListDetailed() ([]ReportListItem, error) {
	names, err := s.List()
	if err != nil {
		return nil, err
	}

	var items []ReportListItem
	for _, name := range names {
		r, err := s.Load(name)
		if err != nil || r == nil {
			continue // Skip reports that can't be loaded
		}

		bugs := 0
		for _, t := range r.Tables {
			bugs += len(t.Bugs())
		}
		items = append(items, ReportListItem{
			Name:    name,
			Title:   r.Title,
			Created: r.Created,
			Tables:  len(r.Tables),
			Bugs:    bugs,
		})
	}

	return items, nil
}

// Delete removes a report from storage
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.reportFilePath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete report file: %w", err)
	}

	return nil
}

// DataDir returns the data directory path
func (s *Store) DataDir() string {
	return s.dataDir
}
