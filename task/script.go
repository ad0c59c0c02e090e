package task

// Processor is one step of a pipeline.
type Processor struct {
	ClassName string         `json:"class_name"`
	Image     string         `json:"image,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
}

// Asset is one item a task processes.
type Asset struct {
	ID   string `json:"id"`
	Path string `json:"path,omitempty"`
}

// Script is the pipeline an analyst runs for a task.
type Script struct {
	Type       string         `json:"type,omitempty"`
	GlobalArgs map[string]any `json:"global_args,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
	Execute    []Processor    `json:"execute,omitempty"`
	Assets     []Asset        `json:"assets,omitempty"`
}

// ExpandSpec describes a child task a running task registers.
type ExpandSpec struct {
	Name    string      `json:"name"`
	Assets  []Asset     `json:"assets,omitempty"`
	Execute []Processor `json:"execute,omitempty"`
}

// Expand returns the script for a child task. The child inherits the
// parent's type, global args and settings. It runs spec.Execute when
// given and the parent's pipeline otherwise.
func (s *Script) Expand(spec ExpandSpec) *Script {
	child := &Script{Assets: append([]Asset(nil), spec.Assets...)}
	if s != nil {
		child.Type = s.Type
		child.GlobalArgs = cloneMap(s.GlobalArgs)
		child.Settings = cloneMap(s.Settings)
		child.Execute = append([]Processor(nil), s.Execute...)
	}
	if len(spec.Execute) > 0 {
		child.Execute = append([]Processor(nil), spec.Execute...)
	}
	return child
}

// AssetIDs returns the IDs of the script's assets.
func (s *Script) AssetIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Assets))
	for _, a := range s.Assets {
		ids = append(ids, a.ID)
	}
	return ids
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
