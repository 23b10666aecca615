package aifetchly

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToolSpec is the specification of a tool.
type ToolSpec struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description is a human-readable description of what the tool does.
	Description string

	// Schema is the JSON Schema of the tool's parameters as a raw JSON
	// document. When set, arguments are validated against it before the tool
	// runs. An empty schema skips validation.
	Schema string
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	if s.Name == "" {
		return goerr.New("tool name is required", goerr.V("tool", s))
	}
	return nil
}

// Tool is one capability the remote agent may invoke. Run returning an error
// does not abort the turn; the error is normalized into a failed ToolResult
// and surfaced back to the agent.
type Tool interface {
	Spec() ToolSpec
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// remoteToolPattern matches dynamically-addressed remote capability names:
// remote_<serverID>_<method>.
var remoteToolPattern = regexp.MustCompile(`^remote_(\d+)_(.+)$`)

// Registry resolves tool names to tools. Names are registered explicitly;
// the only dynamic route is the remote_<serverID>_<method> prefix, which is
// forwarded to the pluggable RemoteExecutor when one is configured.
type Registry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	remote  RemoteExecutor
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRemoteExecutor routes remote_<serverID>_<method> tool names to the
// given executor.
func WithRemoteExecutor(remote RemoteExecutor) RegistryOption {
	return func(r *Registry) {
		r.remote = remote
	}
}

// NewRegistry builds a registry from the given tools. Duplicate names and
// invalid parameter schemas are rejected at construction, not at call time.
func NewRegistry(tools []Tool, options ...RegistryOption) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}
	for _, opt := range options {
		opt(r)
	}

	for _, tool := range tools {
		spec := tool.Spec()
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.tools[spec.Name]; ok {
			return nil, goerr.Wrap(ErrToolNameConflict, "duplicate tool registration", goerr.V("tool_name", spec.Name))
		}
		r.tools[spec.Name] = tool

		if spec.Schema != "" {
			schema, err := compileSchema(spec.Name, spec.Schema)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid parameter schema", goerr.V("tool_name", spec.Name))
			}
			r.schemas[spec.Name] = schema
		}
	}

	return r, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/params.json", name)
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Lookup resolves a tool by name. Remote capability names are synthesized on
// the fly when a RemoteExecutor is configured.
func (r *Registry) Lookup(name string) (Tool, bool) {
	if tool, ok := r.tools[name]; ok {
		return tool, true
	}

	if r.remote != nil {
		if m := remoteToolPattern.FindStringSubmatch(name); m != nil {
			serverID, err := strconv.Atoi(m[1])
			if err == nil {
				return &remoteTool{name: name, serverID: serverID, method: m[2], remote: r.remote}, true
			}
		}
	}

	return nil, false
}

// ValidateArgs validates tool-call arguments against the tool's parameter
// schema. Tools without a schema accept any arguments.
func (r *Registry) ValidateArgs(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}

	// jsonschema validates generic values; a nil map must still validate as
	// an empty object so required-field errors read correctly.
	var value any = args
	if args == nil {
		value = map[string]any{}
	}

	if err := schema.Validate(value); err != nil {
		return goerr.Wrap(ErrInvalidToolArgs, err.Error(), goerr.V("tool_name", name))
	}
	return nil
}
