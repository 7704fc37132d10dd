package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/medocr/docflow/capability"
	"github.com/medocr/docflow/step"
	"github.com/medocr/docflow/store/file"
	"github.com/medocr/docflow/workflow"
)

func newValidateCommand(_ *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate <file|dir>...",
		Short:       "Check workflow definition files",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := definitionFiles(args)
			if err != nil {
				return err
			}
			reg := capability.NewRegistry(capability.Deps{})

			out := cmd.OutOrStdout()
			var failed int
			seen := make(map[string]string)
			for _, path := range paths {
				problems := validateFile(path, reg, seen)
				if len(problems) == 0 {
					fmt.Fprintf(out, "ok    %s\n", path)
					continue
				}
				failed++
				fmt.Fprintf(out, "FAIL  %s\n", path)
				for _, p := range problems {
					fmt.Fprintf(out, "      - %s\n", p)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definitions invalid", failed, len(paths))
			}
			return nil
		},
	}
}

// definitionFiles expands directories into their YAML files.
func definitionFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(arg, pattern))
			if err != nil {
				return nil, err
			}
			paths = append(paths, matches...)
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no definition files found")
	}
	return paths, nil
}

func validateFile(path string, reg *step.Registry, seen map[string]string) []string {
	def, err := file.LoadDefinitionFile(path)
	if err != nil {
		return []string{err.Error()}
	}
	var problems []string
	if err := def.Validate(); err != nil {
		problems = append(problems, strings.Split(err.Error(), "\n")...)
	}
	problems = append(problems, unknownTypes(def, reg)...)
	if def.ID != "" {
		if prev, dup := seen[def.ID]; dup {
			problems = append(problems, fmt.Sprintf("workflow %q already defined in %s", def.ID, prev))
		} else {
			seen[def.ID] = path
		}
	}
	return problems
}

func unknownTypes(def *workflow.Definition, reg *step.Registry) []string {
	var out []string
	for _, s := range def.Steps {
		if s.Type != "" && !reg.Has(s.Type) {
			out = append(out, fmt.Sprintf("step %q: unknown step type %q", s.ID, s.Type))
		}
	}
	return out
}
