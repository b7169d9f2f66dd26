package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/arbiter/internal/knowledge"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize arbiter in the current repository",
	Long: `Initialize arbiter in the current repository.
This creates the state directory (.arbiter by default) with an empty
knowledge document carrying the project invariants.`,
	RunE: runInit,
}

var (
	initTechStack        []string
	initAuthModel        string
	initDataStorage      string
	initSecurityPatterns []string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringSliceVar(&initTechStack, "tech-stack", nil, "technologies the project is committed to")
	initCmd.Flags().StringVar(&initAuthModel, "auth-model", "", "authentication model, e.g. jwt")
	initCmd.Flags().StringVar(&initDataStorage, "data-storage", "", "primary data store, e.g. postgres")
	initCmd.Flags().StringSliceVar(&initSecurityPatterns, "security-pattern", nil, "identifiers that mark auth or permission code")
}

func runInit(cmd *cobra.Command, args []string) error {
	a, closeApp, err := loadApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp()

	created, err := a.store.Init(cmd.Context(), knowledge.Invariants{
		TechStack:        initTechStack,
		AuthModel:        initAuthModel,
		DataStorage:      initDataStorage,
		SecurityPatterns: initSecurityPatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	out := cmd.OutOrStdout()
	if !created {
		fmt.Fprintf(out, "Already initialized: %s\n", a.store.KnowledgePath())
		return nil
	}
	fmt.Fprintln(out, "arbiter initialized successfully!")
	fmt.Fprintf(out, "State directory: %s\n", a.stateDir)
	return nil
}
