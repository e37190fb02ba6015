package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/entrys/gateway/internal/store"
)

// SeedFile describes the demo data loaded by `entrysctl seed`.
type SeedFile struct {
	Team    string      `yaml:"team" validate:"required"`
	Agents  []SeedAgent `yaml:"agents" validate:"dive"`
	Tools   []SeedTool  `yaml:"tools" validate:"dive"`
	Aliases []SeedAlias `yaml:"aliases" validate:"dive"`
}

type SeedAgent struct {
	Env  string `yaml:"env" validate:"required"`
	Name string `yaml:"name" validate:"required"`
}

type SeedTool struct {
	Env              string            `yaml:"env" validate:"required"`
	LogicalName      string            `yaml:"logicalName" validate:"required"`
	Version          string            `yaml:"version" validate:"required"`
	DisplayName      string            `yaml:"displayName"`
	Type             string            `yaml:"type" validate:"omitempty,oneof=http mcp"`
	Method           string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT PATCH DELETE"`
	URLTemplate      string            `yaml:"urlTemplate" validate:"required"`
	Headers          map[string]string `yaml:"headers"`
	MCPToolName      string            `yaml:"mcpToolName"`
	AllowAllAgents   *bool             `yaml:"allowAllAgents"`
	RedactionEnabled *bool             `yaml:"redactionEnabled"`
	InputSchema      map[string]any    `yaml:"inputSchema"`
	Active           bool              `yaml:"active"`
}

type SeedAlias struct {
	Env         string `yaml:"env" validate:"required"`
	Alias       string `yaml:"alias" validate:"required"`
	LogicalName string `yaml:"logicalName" validate:"required"`
}

// SeedStore is the subset of the store used for seeding.
type SeedStore interface {
	FindTeamByName(ctx context.Context, name string) (*store.Team, error)
	CreateTeam(ctx context.Context, name string) (*store.Team, []*store.Environment, error)
	GetEnvironmentByName(ctx context.Context, teamID, name string) (*store.Environment, error)
	CreateTool(ctx context.Context, p store.CreateToolParams) (*store.Tool, error)
	CreateAgentKey(ctx context.Context, teamID, envID, name string) (*store.AgentKey, string, error)
	CreateAlias(ctx context.Context, teamID, envID, alias, logicalName string) (*store.ToolAlias, error)
}

// IssuedKey is a freshly created agent key. The plaintext is never stored.
type IssuedKey struct {
	Env  string
	Name string
	Key  string
}

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a team with its tools, aliases and agent keys from a YAML file",
	Args:  cobra.NoArgs,
	RunE:  seedRun,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "config/seed.yaml", "seed file path")
}

func seedRun(cmd *cobra.Command, args []string) error {
	f, err := LoadSeedFile(seedFile)
	if err != nil {
		return err
	}
	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	keys, err := Seed(cmd.Context(), store.NewStore(db), f, out)
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Agent keys (shown only once):")
		for _, k := range keys {
			fmt.Fprintf(out, "  %s/%s  %s\n", k.Env, k.Name, k.Key)
		}
	}
	return nil
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Unknown keys are rejected.
func ParseSeed(data []byte) (*SeedFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	if err := validator.New().Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid seed file: %w", err)
	}
	return &f, nil
}

// Seed loads f into s. The team is reused when one with the same name exists;
// tools and aliases that already exist are skipped, agent keys are always
// issued anew.
func Seed(ctx context.Context, s SeedStore, f *SeedFile, out io.Writer) ([]IssuedKey, error) {
	team, err := s.FindTeamByName(ctx, f.Team)
	if err != nil {
		return nil, err
	}
	if team == nil {
		team, _, err = s.CreateTeam(ctx, f.Team)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "team %q created (%s)\n", team.Name, team.ID)
	} else {
		fmt.Fprintf(out, "team %q exists (%s)\n", team.Name, team.ID)
	}

	envs := map[string]string{}
	envID := func(name string) (string, error) {
		if id, ok := envs[name]; ok {
			return id, nil
		}
		env, err := s.GetEnvironmentByName(ctx, team.ID, name)
		if err != nil {
			return "", err
		}
		if env == nil {
			return "", fmt.Errorf("team %q has no environment %q", f.Team, name)
		}
		envs[name] = env.ID
		return env.ID, nil
	}

	for _, t := range f.Tools {
		env, err := envID(t.Env)
		if err != nil {
			return nil, err
		}
		params, err := t.params(team.ID, env)
		if err != nil {
			return nil, err
		}
		tool, err := s.CreateTool(ctx, params)
		if store.IsUniqueViolation(err) {
			fmt.Fprintf(out, "tool %s %s (%s) exists, skipped\n", t.LogicalName, t.Version, t.Env)
			continue
		}
		if err != nil {
			return nil, err
		}
		state := "inactive"
		if tool.IsActive {
			state = "active"
		}
		fmt.Fprintf(out, "tool %s %s (%s) created [%s] -> %s\n", tool.LogicalName, tool.Version, t.Env, state, tool.URLTemplate)
	}

	for _, a := range f.Aliases {
		env, err := envID(a.Env)
		if err != nil {
			return nil, err
		}
		_, err = s.CreateAlias(ctx, team.ID, env, a.Alias, a.LogicalName)
		if store.IsUniqueViolation(err) {
			fmt.Fprintf(out, "alias %q (%s) exists, skipped\n", a.Alias, a.Env)
			continue
		}
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "alias %q -> %q (%s) created\n", a.Alias, a.LogicalName, a.Env)
	}

	var keys []IssuedKey
	for _, a := range f.Agents {
		env, err := envID(a.Env)
		if err != nil {
			return nil, err
		}
		k, plaintext, err := s.CreateAgentKey(ctx, team.ID, env, a.Name)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "agent key %s (%s...) created\n", k.Name, k.KeyPrefix)
		keys = append(keys, IssuedKey{Env: a.Env, Name: a.Name, Key: plaintext})
	}
	return keys, nil
}

func (t *SeedTool) params(teamID, envID string) (store.CreateToolParams, error) {
	p := store.CreateToolParams{
		TeamID:           teamID,
		EnvID:            envID,
		LogicalName:      t.LogicalName,
		Version:          t.Version,
		DisplayName:      t.DisplayName,
		URLTemplate:      t.URLTemplate,
		AllowAllAgents:   t.AllowAllAgents,
		RedactionEnabled: t.RedactionEnabled,
		IsActive:         &t.Active,
	}
	if t.Type != "" {
		p.Type = &t.Type
	}
	if t.Method != "" {
		p.Method = &t.Method
	}
	if t.MCPToolName != "" {
		p.MCPToolName = &t.MCPToolName
	}
	if len(t.Headers) > 0 {
		raw, err := json.Marshal(t.Headers)
		if err != nil {
			return p, fmt.Errorf("tool %s headers: %w", t.LogicalName, err)
		}
		p.HeadersJSON = raw
	}
	if len(t.InputSchema) > 0 {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return p, fmt.Errorf("tool %s inputSchema: %w", t.LogicalName, err)
		}
		p.InputSchemaJSON = raw
	}
	return p, nil
}
