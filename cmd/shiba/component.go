package main

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

//go:embed builderTemplate.txt
var builderTemplate string

//go:embed compTemplate.txt
var compTemplate string

var componentCmd = &cobra.Command{
	Use:   "component",
	Short: "Create and manage components.",
	Long:  "`component --create [path]` scaffolds a new component package with a comp.go and a builder.go.",
	Run: func(cmd *cobra.Command, args []string) {
		componentName, _ := cmd.Flags().GetString("create")
		if componentName == "" {
			fmt.Println("Action not valid.")
			return
		}

		if !inGitRepo() {
			log.Fatalf("Error: This command must be run inside a Git repository.")
		}

		if err := createComponentFolder(componentName); err != nil {
			log.Fatalf("Error creating component: %v", err)
		}
		fmt.Printf("Component '%s' created successfully!\n", componentName)

		if err := generateBuilderFile(componentName); err != nil {
			log.Fatalf("Error generating builder file: %v", err)
		}
		fmt.Println("Builder file generated successfully!")

		if err := generateCompFile(componentName); err != nil {
			log.Fatalf("Error generating comp file: %v", err)
		}
		fmt.Println("Comp file generated successfully!")
	},
}

func init() {
	rootCmd.AddCommand(componentCmd)
	componentCmd.Flags().String("create", "", "Create a new component at the given path")
}

// inGitRepo returns true if the current working directory is inside a Git
// repository.
func inGitRepo() bool {
	cmd := execCommand("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = filepath.Dir(".")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// createComponentFolder creates the folder if it does not already exist.
func createComponentFolder(name string) error {
	if _, err := os.Stat(name); err == nil {
		return fmt.Errorf("folder '%s' already exists", name)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%v", err)
	}
	return os.MkdirAll(name, 0755)
}

// generateBuilderFile materialises builder.go from the template.
func generateBuilderFile(folder string) error {
	if _, err := os.Stat(folder); os.IsNotExist(err) {
		return fmt.Errorf("failed to find folder %s", folder)
	} else if err != nil {
		return fmt.Errorf("%v", err)
	}

	filePath := filepath.Join(folder, "builder.go")
	packageName := filepath.Base(filepath.Clean(folder))
	content := strings.ReplaceAll(builderTemplate, "{{packageName}}", packageName)
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("%v", err)
	}
	return nil
}

// generateCompFile materialises comp.go from the template.
func generateCompFile(folder string) error {
	if _, err := os.Stat(folder); os.IsNotExist(err) {
		return fmt.Errorf("failed to find folder: %s", folder)
	} else if err != nil {
		return fmt.Errorf("%v", err)
	}

	filePath := filepath.Join(folder, "comp.go")
	packageName := filepath.Base(filepath.Clean(folder))
	content := strings.ReplaceAll(compTemplate, "{{packageName}}", packageName)
	if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
		return fmt.Errorf("%v", err)
	}
	return nil
}

// execCommand is wrapped for testability.
var execCommand = exec.Command
