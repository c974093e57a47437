package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosstalk-ai/crosstalk/internal/config"
	"github.com/crosstalk-ai/crosstalk/internal/project"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage registered project roots",
	RunE:  runProjectsList,
}

var projectsAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a project root",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsAdd,
}

func init() {
	projectsCmd.AddCommand(projectsAddCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	reg, err := project.LoadRegistry(paths.ProjectsPath())
	if err != nil {
		return err
	}

	roots := reg.Roots()
	if len(roots) == 0 {
		fmt.Println("No project roots registered.")
		return nil
	}
	for _, root := range roots {
		fmt.Println(root)
	}
	return nil
}

func runProjectsAdd(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	reg, err := project.LoadRegistry(paths.ProjectsPath())
	if err != nil {
		return err
	}
	if err := reg.Register(args[0]); err != nil {
		return err
	}
	if err := reg.Save(paths.ProjectsPath()); err != nil {
		return err
	}
	fmt.Printf("Registered %s\n", args[0])
	return nil
}
