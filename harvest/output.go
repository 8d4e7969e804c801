package harvest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/use-agent/leadharvest/models"
)

// WriteJSON validates out and writes it to path, replacing any existing
// file only once the new content is complete.
func WriteJSON(path string, out *models.HarvestOutput) error {
	if err := out.Validate(); err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".harvest-*.json")
	if err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("write harvest output: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write harvest output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write harvest output: %w", err)
	}
	return nil
}
