// Package config loads eggstep workspaces: a program, its rewrite rules and
// engine limits, described in YAML.
//
// A workspace file looks like:
//
//	name: add-comm
//	program: "(add x (add y z))"
//	generic_prefix: "?"
//	rules:
//	  - label: add_comm
//	    left: "(add ?a ?b)"
//	    right: "(add ?b ?a)"
//	engine:
//	  max_steps: 30
//	  max_nodes: 10000 # 0 disables the limit
//	  cost: size
//
// Built-in presets are embedded in the binary and available through Presets
// and Preset.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/gitrdm/eggstep/pkg/egraph"
	"github.com/gitrdm/eggstep/pkg/lispy"
)

const (
	// MaxFileSize bounds workspace files read from disk (1MB).
	MaxFileSize = 1024 * 1024

	// DefaultMaxSteps bounds Saturate when a workspace does not say.
	DefaultMaxSteps = 30

	// DefaultMaxNodes stops saturation of runaway rule sets.
	DefaultMaxNodes = 10000

	// CostSize and CostDepth name the built-in cost functions.
	CostSize  = "size"
	CostDepth = "depth"
)

var (
	// ErrInvalidWorkspace is wrapped by every validation failure.
	ErrInvalidWorkspace = errors.New("invalid workspace")

	// ErrUnknownPreset is returned by Preset for names that are not built in.
	ErrUnknownPreset = errors.New("unknown preset")

	// ErrFileTooLarge is returned by Load for files above MaxFileSize.
	ErrFileTooLarge = errors.New("workspace file too large")
)

//go:embed presets.yaml
var presetsYAML []byte

// workspaceValidate checks workspace struct tags. Field names in errors are
// the YAML keys.
var workspaceValidate *validator.Validate

func init() {
	workspaceValidate = validator.New()
	workspaceValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = workspaceValidate.RegisterValidation("notblank", validateNotBlank)
	_ = workspaceValidate.RegisterValidation("genericprefix", validateGenericPrefix)
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateGenericPrefix rejects prefixes the lexer would split.
func validateGenericPrefix(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), "() \t\r\n")
}

// Workspace is one program with its rewrite rules.
type Workspace struct {
	Name          string             `yaml:"name" json:"name"`
	Description   string             `yaml:"description,omitempty" json:"description,omitempty"`
	Program       string             `yaml:"program" json:"program" validate:"notblank"`
	GenericPrefix string             `yaml:"generic_prefix,omitempty" json:"generic_prefix,omitempty" validate:"genericprefix"`
	Rules         []lispy.RuleSource `yaml:"rules" json:"rules" validate:"dive"`
	Engine        EngineConfig       `yaml:"engine" json:"engine"`
}

// EngineConfig holds saturation limits and the extraction cost.
// MaxNodes is a pointer so that an explicit 0, which disables the node
// limit, can be told apart from an absent key.
type EngineConfig struct {
	MaxSteps int    `yaml:"max_steps" json:"max_steps" validate:"gte=0"`
	MaxNodes *int   `yaml:"max_nodes,omitempty" json:"max_nodes,omitempty" validate:"omitnil,gte=0"`
	Cost     string `yaml:"cost" json:"cost" validate:"oneof=size depth"`
}

// NodeLimit returns the node limit to pass to the engine; 0 means none.
func (c EngineConfig) NodeLimit() int {
	if c.MaxNodes == nil {
		return DefaultMaxNodes
	}
	return *c.MaxNodes
}

// Load reads and validates a workspace file.
func Load(path string) (*Workspace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read workspace %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%s: %w (limit %d bytes)", path, ErrFileTooLarge, MaxFileSize)
	}
	ws, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ws, nil
}

// Parse decodes and validates a workspace. Unknown fields are rejected.
func Parse(data []byte) (*Workspace, error) {
	var ws Workspace
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode workspace: %w", err)
	}
	ws.applyDefaults()
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return &ws, nil
}

func (w *Workspace) applyDefaults() {
	if w.GenericPrefix == "" {
		w.GenericPrefix = lispy.DefaultGenericPrefix
	}
	if w.Engine.MaxSteps == 0 {
		w.Engine.MaxSteps = DefaultMaxSteps
	}
	if w.Engine.MaxNodes == nil {
		n := DefaultMaxNodes
		w.Engine.MaxNodes = &n
	}
	if w.Engine.Cost == "" {
		w.Engine.Cost = CostSize
	}
}

// Validate checks the fields that can be checked without parsing terms.
// Every failure wraps ErrInvalidWorkspace.
func (w *Workspace) Validate() error {
	err := workspaceValidate.Struct(w)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidWorkspace, err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = describe(fe)
	}
	return fmt.Errorf("%w: %s", ErrInvalidWorkspace, strings.Join(msgs, "; "))
}

// describe turns a field error into a message naming the YAML path.
func describe(fe validator.FieldError) string {
	path := strings.TrimPrefix(fe.Namespace(), "Workspace.")
	switch fe.Tag() {
	case "notblank":
		if path == "program" {
			return "program is empty"
		}
		return path + ": empty side"
	case "genericprefix":
		return fmt.Sprintf("generic_prefix %q contains a delimiter", fe.Value())
	case "gte":
		return path + " must not be negative"
	case "oneof":
		return fmt.Sprintf("unknown cost %q (want %s or %s)", fe.Value(), CostSize, CostDepth)
	default:
		return fe.Error()
	}
}

// CostFunction resolves a cost name.
func CostFunction(name string) (egraph.CostFunction, error) {
	switch name {
	case CostSize, "":
		return egraph.AstSize, nil
	case CostDepth:
		return egraph.AstDepth, nil
	default:
		return nil, fmt.Errorf("%w: unknown cost %q (want %s or %s)", ErrInvalidWorkspace, name, CostSize, CostDepth)
	}
}

// Build parses the program and rules and creates an engine. The workspace's
// cost and node limit are applied before opts, so opts may override them.
func (w *Workspace) Build(opts ...egraph.Option) (*egraph.Engine, error) {
	p := lispy.New(lispy.Options{GenericPrefix: w.GenericPrefix})
	program, err := p.ParseProgram(w.Program)
	if err != nil {
		return nil, err
	}
	rules, err := p.ParseRules(w.Rules)
	if err != nil {
		return nil, err
	}
	cost, err := CostFunction(w.Engine.Cost)
	if err != nil {
		return nil, err
	}
	all := append([]egraph.Option{
		egraph.WithCost(cost),
		egraph.WithNodeLimit(w.Engine.NodeLimit()),
	}, opts...)
	return egraph.NewEngine(program, rules, all...)
}

// Marshal encodes the workspace as YAML.
func (w *Workspace) Marshal() ([]byte, error) {
	return yaml.Marshal(w)
}

var (
	presetsOnce sync.Once
	presets     []*Workspace
	presetsErr  error
)

func loadPresets() {
	var doc struct {
		Presets []yaml.Node `yaml:"presets"`
	}
	if err := yaml.Unmarshal(presetsYAML, &doc); err != nil {
		presetsErr = fmt.Errorf("decode presets: %w", err)
		return
	}
	for _, node := range doc.Presets {
		var ws Workspace
		if err := node.Decode(&ws); err != nil {
			presetsErr = fmt.Errorf("decode preset at line %d: %w", node.Line, err)
			return
		}
		ws.applyDefaults()
		if err := ws.Validate(); err != nil {
			presetsErr = fmt.Errorf("preset %s: %w", ws.Name, err)
			return
		}
		presets = append(presets, &ws)
	}
}

// Presets returns the built-in workspaces in declaration order. Callers get
// copies and may modify them.
func Presets() ([]*Workspace, error) {
	presetsOnce.Do(loadPresets)
	if presetsErr != nil {
		return nil, presetsErr
	}
	out := make([]*Workspace, len(presets))
	for i, p := range presets {
		out[i] = p.clone()
	}
	return out, nil
}

// Preset returns the built-in workspace called name.
func Preset(name string) (*Workspace, error) {
	all, err := Presets()
	if err != nil {
		return nil, err
	}
	for _, ws := range all {
		if ws.Name == name {
			return ws, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

func (w *Workspace) clone() *Workspace {
	cp := *w
	cp.Rules = append([]lispy.RuleSource(nil), w.Rules...)
	if w.Engine.MaxNodes != nil {
		n := *w.Engine.MaxNodes
		cp.Engine.MaxNodes = &n
	}
	return &cp
}
