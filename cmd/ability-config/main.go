package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/ability"
	"github.com/oarkflow/ability/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "matrix":
		handleMatrix()
	case "lint":
		handleLint()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("ability-config - Configuration tool for ability")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ability-config convert <input> <output>  - Convert between formats")
	fmt.Println("  ability-config validate <file>           - Validate configuration")
	fmt.Println("  ability-config matrix <file>             - Print the permission matrix")
	fmt.Println("  ability-config lint <file>               - Check template variables in conditions")
	fmt.Println()
	fmt.Println("Supported formats: .ability, .dsl, .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: ability-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ability-config validate <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ruleCount := 0
	forbidCount := 0
	for _, role := range cfg.Roles {
		ruleCount += len(role.Rules)
		for _, rule := range role.Rules {
			if rule.Inverted {
				forbidCount++
			}
		}
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version:    %d\n", cfg.Version)
	fmt.Printf("  Roles:      %d\n", len(cfg.Roles))
	fmt.Printf("  Rules:      %d (%d forbid)\n", ruleCount, forbidCount)
	fmt.Printf("  Subjects:   %d\n", len(cfg.Subjects))
	fmt.Printf("  Operations: %d\n", len(cfg.Operations))
}

func handleMatrix() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ability-config matrix <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	subjects := cfg.Subjects
	if len(subjects) == 0 {
		seen := map[string]bool{}
		for _, role := range cfg.Roles {
			for _, rule := range role.Rules {
				for _, s := range rule.Subjects {
					if s != ability.SubjectAll && !seen[s] {
						seen[s] = true
						subjects = append(subjects, s)
					}
				}
			}
		}
	}

	engine, err := seedEngine(cfg)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	matrices, err := engine.PermissionMatrix(context.Background(), subjects)
	if err != nil {
		fmt.Printf("Error building matrix: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(matrices, "", "  ")
	fmt.Println(string(out))
}

func handleLint() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ability-config lint <file>")
		os.Exit(1)
	}

	cfg, err := loadConfig(os.Args[2])
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	resolver := ability.NewConditionResolver(ability.NopLogger())
	found := 0
	for _, role := range cfg.Roles {
		for _, rule := range role.Rules {
			if !resolver.HasTemplateVariables(rule.Conditions) {
				continue
			}
			found++
			vars := resolver.ExtractTemplateVariables(rule.Conditions)
			fmt.Printf("role %s rule %s uses template variables: %s\n",
				role.ID, rule.ID, strings.Join(vars, ", "))
		}
	}
	if found == 0 {
		fmt.Println("No template variables found")
	}
}

func seedEngine(cfg *ability.Config) (*ability.Engine, error) {
	roleSource := stores.NewMemoryRoleSource()
	userSource := stores.NewMemoryUserSource()
	auditStore := stores.NewMemoryAuditStore()

	engine, err := ability.NewEngine(roleSource, userSource, auditStore)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	if err := engine.Init(ctx); err != nil {
		return nil, err
	}
	if err := engine.ApplyConfig(ctx, cfg, ability.RequestMeta{}); err != nil {
		return nil, err
	}
	return engine, nil
}

func loadConfig(filename string) (*ability.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ability", ".dsl":
		return ability.NewDSLParser().Parse(string(data))
	case ".yaml", ".yml":
		return ability.NewConfigLoader().LoadYAML(data)
	case ".json":
		return ability.NewConfigLoader().LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
}

func saveConfig(cfg *ability.Config, filename string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".ability", ".dsl":
		data = []byte(ability.NewDSLEncoder().Encode(cfg))
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", filepath.Ext(filename))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
