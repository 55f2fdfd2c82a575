// Package scaffold creates the initial project layout for a new Warren team.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// Initialize creates warren.yml and the board data directory.
// If force is true, an existing warren.yml is removed first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	content, err := templatesFS.ReadFile("templates/warren.yml.tmpl")
	if err != nil {
		return fmt.Errorf("failed to read warren.yml template: %w", err)
	}
	if err := os.WriteFile("warren.yml", content, 0644); err != nil {
		return fmt.Errorf("failed to write warren.yml: %w", err)
	}

	if err := os.MkdirAll(".warren", 0755); err != nil {
		return fmt.Errorf("failed to create .warren/ directory: %w", err)
	}

	return validateCreatedFiles()
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	if _, err := os.Stat("warren.yml"); err == nil {
		fmt.Println("⚠️  Removing existing warren.yml...")
		if err := os.Remove("warren.yml"); err != nil {
			return fmt.Errorf("failed to remove warren.yml: %w", err)
		}
	}
	return nil
}

// validateCreatedFiles validates that created files are correct
func validateCreatedFiles() error {
	content, err := os.ReadFile("warren.yml")
	if err != nil {
		return fmt.Errorf("failed to read created warren.yml: %w", err)
	}

	var yamlData interface{}
	if err := yaml.Unmarshal(content, &yamlData); err != nil {
		return fmt.Errorf("created warren.yml is not valid YAML: %w", err)
	}

	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Warren project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ warren.yml")
	fmt.Println("  ✓ .warren/ (board data directory)")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add '.warren/' to your .gitignore file")
	fmt.Println("  2. Customize warren.yml with your team's agents")
	fmt.Println("  3. Run 'warren team create' to register the team")
	fmt.Println("  4. Run 'warren monitor' next to the lead to supervise it")
}
