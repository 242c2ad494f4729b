package core

import (
	"maps"
	"slices"
	"strings"

	"go.yaml.in/yaml/v4"
)

type NodeKind string

type Category string

const (
	CategoryText    Category = "text"
	CategoryInput   Category = "input"
	CategoryImage   Category = "image"
	CategoryVideo   Category = "video"
	CategoryLlm     Category = "llm"
	CategoryUtility Category = "utility"
)

var categories = []Category{
	CategoryText,
	CategoryInput,
	CategoryImage,
	CategoryVideo,
	CategoryLlm,
	CategoryUtility,
}

func Categories() []Category {
	return slices.Clone(categories)
}

// NodeTypeDefinition describes one node kind. Definitions are parsed from
// yaml once and never mutated afterwards.
type NodeTypeDefinition struct {
	Kind        NodeKind            `yaml:"kind" json:"kind"`
	Label       string              `yaml:"label" json:"label"`
	Category    Category            `yaml:"category" json:"category"`
	Icon        string              `yaml:"icon" json:"icon"`
	Color       string              `yaml:"color" json:"color"`
	Description string              `yaml:"description" json:"description"`
	Index       int                 `yaml:"index" json:"-"`
	Inputs      map[PortId]NodePort `yaml:"inputs" json:"inputs,omitempty"`
	Outputs     map[PortId]NodePort `yaml:"outputs" json:"outputs,omitempty"`
}

func (d *NodeTypeDefinition) IsValid() error {
	if d.Kind == "" {
		return CreateErr(nil, "kind is missing")
	} else if strings.Contains(string(d.Kind), "_") {
		return CreateErr(nil, "kind '%v' must not contain underscores", d.Kind)
	} else if d.Label == "" {
		return CreateErr(nil, "label is missing in %v", d.Kind)
	} else if d.Label[0] != strings.ToUpper(d.Label)[0] {
		return CreateErr(nil, "label must start with an upper case letter in %v", d.Kind)
	} else if !slices.Contains(categories, d.Category) {
		return CreateErr(nil, "unknown category '%v' in %v", d.Category, d.Kind)
	}
	return nil
}

func ParseNodeTypeDefinition(def string) (NodeTypeDefinition, error) {
	var nodeDef NodeTypeDefinition
	err := yaml.Unmarshal([]byte(def), &nodeDef)
	if err != nil {
		return NodeTypeDefinition{}, CreateErr(err, "unable to parse node definition")
	}

	for id, port := range nodeDef.Inputs {
		port.Id = id
		nodeDef.Inputs[id] = port
	}
	for id, port := range nodeDef.Outputs {
		port.Id = id
		nodeDef.Outputs[id] = port
	}

	return nodeDef, nil
}

// KindEntry binds a node definition to the schema of its data payload.
type KindEntry struct {
	Definition NodeTypeDefinition
	Schema     DataSchema
}

type kindInfo struct {
	def     NodeTypeDefinition
	inputs  []NodePort
	outputs []NodePort
	schema  DataSchema
}

// Registry is the immutable catalog of node kinds, their ports and
// data schemas. Build one with NewRegistry and share it by reference.
type Registry struct {
	kinds map[NodeKind]*kindInfo
	order []NodeKind
}

func NewRegistry(entries ...KindEntry) (*Registry, error) {
	r := &Registry{
		kinds: make(map[NodeKind]*kindInfo, len(entries)),
	}

	for _, entry := range entries {
		def := entry.Definition

		err := def.IsValid()
		if err != nil {
			return nil, err
		}

		if _, exists := r.kinds[def.Kind]; exists {
			return nil, CreateErr(nil, "node definition '%v' already registered", def.Kind)
		}

		if entry.Schema == nil {
			return nil, CreateErr(nil, "node definition '%v' has no data schema", def.Kind)
		}

		inputs, err := sortedPorts(def.Kind, def.Inputs, PortInput)
		if err != nil {
			return nil, err
		}

		outputs, err := sortedPorts(def.Kind, def.Outputs, PortOutput)
		if err != nil {
			return nil, err
		}

		def.Inputs = maps.Clone(def.Inputs)
		def.Outputs = maps.Clone(def.Outputs)

		r.kinds[def.Kind] = &kindInfo{
			def:     def,
			inputs:  inputs,
			outputs: outputs,
			schema:  entry.Schema,
		}
		r.order = append(r.order, def.Kind)
	}

	slices.SortStableFunc(r.order, func(a, b NodeKind) int {
		return r.kinds[a].def.Index - r.kinds[b].def.Index
	})

	return r, nil
}

func sortedPorts(kind NodeKind, ports map[PortId]NodePort, direction PortDirection) ([]NodePort, error) {
	indexes := make(map[int]PortId, len(ports))
	result := make([]NodePort, 0, len(ports))

	for id, port := range ports {
		if port.Id != "" && port.Id != id {
			return nil, CreateErr(nil, "%v '%v' of %v has mismatching id '%v'", direction, id, kind, port.Id)
		}
		port.Id = id

		err := PortDefValidation(id, port, direction)
		if err != nil {
			return nil, CreateErr(err, "%v '%v' of %v is invalid", direction, id, kind)
		}

		prev, exists := indexes[port.Index]
		if exists {
			return nil, CreateErr(nil, "duplicate %v index in %v at '%v' / '%v'", direction, kind, id, prev)
		}
		indexes[port.Index] = id

		result = append(result, port)
	}

	slices.SortFunc(result, func(a, b NodePort) int {
		return a.Index - b.Index
	})

	return result, nil
}

// IsValidNodeKind guards an externally supplied kind string.
func (r *Registry) IsValidNodeKind(kind string) bool {
	_, ok := r.kinds[NodeKind(kind)]
	return ok
}

func (r *Registry) Definition(kind NodeKind) (NodeTypeDefinition, bool) {
	info, ok := r.kinds[kind]
	if !ok {
		return NodeTypeDefinition{}, false
	}
	def := info.def
	def.Inputs = maps.Clone(info.def.Inputs)
	def.Outputs = maps.Clone(info.def.Outputs)
	return def, true
}

// Definitions returns all node definitions in catalog order.
func (r *Registry) Definitions() []NodeTypeDefinition {
	defs := make([]NodeTypeDefinition, 0, len(r.order))
	for _, kind := range r.order {
		def, _ := r.Definition(kind)
		defs = append(defs, def)
	}
	return defs
}

func (r *Registry) Kinds() []NodeKind {
	return slices.Clone(r.order)
}

func (r *Registry) ByCategory() map[Category][]NodeTypeDefinition {
	grouped := map[Category][]NodeTypeDefinition{}
	for _, def := range r.Definitions() {
		grouped[def.Category] = append(grouped[def.Category], def)
	}
	return grouped
}

// GetPort never fails loudly, unknown kinds or ports are reported through ok.
func (r *Registry) GetPort(kind NodeKind, portId PortId, direction PortDirection) (NodePort, bool) {
	for _, port := range r.Ports(kind, direction) {
		if port.Id == portId {
			return port, true
		}
	}
	return NodePort{}, false
}

// Ports returns the ports of a kind ordered by their index.
func (r *Registry) Ports(kind NodeKind, direction PortDirection) []NodePort {
	info, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	if direction == PortInput {
		return slices.Clone(info.inputs)
	}
	return slices.Clone(info.outputs)
}

func (r *Registry) RequiredInputs(kind NodeKind) []NodePort {
	var required []NodePort
	for _, port := range r.Ports(kind, PortInput) {
		if port.Required {
			required = append(required, port)
		}
	}
	return required
}

func (r *Registry) AllowsMultiple(kind NodeKind, portId PortId) bool {
	port, ok := r.GetPort(kind, portId, PortInput)
	return ok && port.Multiple
}

func (r *Registry) Schema(kind NodeKind) (DataSchema, bool) {
	info, ok := r.kinds[kind]
	if !ok {
		return nil, false
	}
	return info.schema, true
}
