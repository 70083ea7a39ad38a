package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minhle87/playbook-bot/internal/backtest"
)

// WriteJSON dumps the full backtest result, indented, creating parent
// directories as needed.
func WriteJSON(res *backtest.Result, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("reporting: create directory %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("reporting: marshal result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("reporting: write %s: %w", path, err)
	}
	return nil
}
