package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/bedtime/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Bedtime Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.LLM.BaseURL = ask(scanner, "Text model base URL", cfg.LLM.BaseURL)
		cfg.LLM.APIKey = ask(scanner, "Text model API key", cfg.LLM.APIKey)

		models := ask(scanner, "Models, in fallback order (comma-separated)", strings.Join(cfg.LLM.Models, ","))
		var list []string
		for _, m := range strings.Split(models, ",") {
			if m = strings.TrimSpace(m); m != "" {
				list = append(list, m)
			}
		}
		if len(list) > 0 {
			cfg.LLM.Models = list
		}

		cfg.TTS.APIKey = ask(scanner, "Text-to-Speech API key (optional)", cfg.TTS.APIKey)
		cfg.TTS.Voice = ask(scanner, "Default voice", cfg.TTS.Voice)
		cfg.Store.Driver = ask(scanner, "Story store (json, sqlite, firestore)", cfg.Store.Driver)
		if cfg.Store.Driver == "firestore" {
			cfg.Store.FirestoreProject = ask(scanner, "Firestore project", cfg.Store.FirestoreProject)
		}
		cfg.HTTP.PublicURL = ask(scanner, "Public base URL for audio links", cfg.HTTP.PublicURL)
		cfg.Telegram.Token = ask(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// ask displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func ask(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
