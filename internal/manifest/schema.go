package manifest

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level construct of one manifest file.
type fileRoot struct {
	Version string         `hcl:"version,optional"`
	Main    *mainBlock     `hcl:"main,block"`
	Modules []*moduleBlock `hcl:"module,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type mainBlock struct {
	Source string `hcl:"source,optional"`
	File   string `hcl:"file,optional"`
}

type moduleBlock struct {
	Name      string         `hcl:"name,label"`
	Source    string         `hcl:"source,optional"`
	File      string         `hcl:"file,optional"`
	Value     hcl.Expression `hcl:"value,optional"`
	Shortcut  string         `hcl:"shortcut,optional"`
	Sandboxed bool           `hcl:"sandboxed,optional"`
	Coverage  *coverageBlock `hcl:"coverage,block"`
}

type coverageBlock struct {
	Lines      []string `hcl:"lines,optional"`
	Conditions []string `hcl:"conditions,optional"`
	Functions  []string `hcl:"functions,optional"`
}
