package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mkarpov/tweetmirror/internal/config"
	"github.com/mkarpov/tweetmirror/internal/journal"
	"github.com/mkarpov/tweetmirror/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and credentials",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%d identities)", len(cfg.Identities))

	// Upstream token
	needsToken := false
	for _, id := range cfg.Identities {
		if id.Kind == config.KindTimeline {
			needsToken = true
		}
	}
	if needsToken {
		if cfg.Upstream.Token == "" {
			printCheck(false, "upstream token ($%s is empty)", cfg.Upstream.TokenEnv)
			ok = false
		} else {
			printCheck(true, "upstream token ($%s)", cfg.Upstream.TokenEnv)
		}
	}

	// Signing keys
	for _, id := range cfg.Identities {
		if _, err := store.NewEd25519SignerFromEnv(id.SigningKeyEnv); err != nil {
			printCheck(false, "signing key for %s: %v", id.Address, err)
			ok = false
		} else {
			printCheck(true, "signing key for %s ($%s)", id.Address, id.SigningKeyEnv)
		}
	}

	// Journal
	jr, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		printCheck(false, "journal: %v", err)
		ok = false
	} else {
		_ = jr.Close()
		printCheck(true, "journal %s", cfg.Journal.Path)
	}

	// Store reachability (info-level, needs network)
	sc := store.NewClient(cfg.Store.BaseURL, newLogger())
	for _, id := range cfg.Identities {
		if _, err := sc.GetProfile(cmd.Context(), id.Address); err != nil {
			printInfo("store profile for %s: %v", id.Address, err)
		} else {
			printCheck(true, "store profile for %s", id.Address)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}
