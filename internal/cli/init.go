package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mkarpov/tweetmirror/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig))
	if err != nil {
		return err
	}

	if !wrote {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
		return nil
	}
	fmt.Printf("Initialized %s. Edit config.yaml and export the referenced env vars.\n", configDir)
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# tweetmirror configuration

upstream:
  token_env: TWEETMIRROR_TOKEN
  timeout: 30s

store:
  base_url: https://store.example.net

journal:
  path: .tweetmirror/journal.db

identities:
  - source: your_handle_here
    kind: timeline
    address: your-store-address
    signing_key_env: TWEETMIRROR_KEY_MAIN
    collect_media: true
    skip_authors: []
    max_items: 200
  # - source: "https://example.com/feed.xml"
  #   kind: rss
  #   address: your-feed-address
  #   signing_key_env: TWEETMIRROR_KEY_FEED
`
