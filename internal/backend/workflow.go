package backend

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
)

// Template is a fixed workflow definition with one prompt node. Each
// submission stamps the prompt text and fresh random seeds into a copy of the
// template; the template itself is never mutated.
type Template struct {
	raw          []byte
	promptNodeID string
	promptField  string
	seedFn       func() uint32
}

// LoadTemplate reads the workflow JSON from disk and verifies the prompt node
// exists.
func LoadTemplate(path, promptNodeID, promptField string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	tmpl := &Template{
		raw:          raw,
		promptNodeID: promptNodeID,
		promptField:  promptField,
		seedFn:       randomSeed,
	}
	if _, err := tmpl.Payload("probe"); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// NewTemplate builds a template from raw JSON, useful for tests.
func NewTemplate(raw []byte, promptNodeID, promptField string) *Template {
	return &Template{raw: raw, promptNodeID: promptNodeID, promptField: promptField, seedFn: randomSeed}
}

// Payload renders the workflow with the given prompt and freshly drawn seeds.
// Every node input named seed or noise_seed is re-randomized independently so
// repeated identical prompts still produce distinct outputs.
func (t *Template) Payload(prompt string) (map[string]any, error) {
	var workflow map[string]any
	if err := json.Unmarshal(t.raw, &workflow); err != nil {
		return nil, fmt.Errorf("workflow: parse template: %w", err)
	}

	node, ok := workflow[t.promptNodeID].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow: prompt node %q missing", t.promptNodeID)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("workflow: prompt node %q has no inputs", t.promptNodeID)
	}
	inputs[t.promptField] = prompt

	for _, v := range workflow {
		nodeData, ok := v.(map[string]any)
		if !ok {
			continue
		}
		nodeInputs, ok := nodeData["inputs"].(map[string]any)
		if !ok {
			continue
		}
		if _, has := nodeInputs["seed"]; has {
			nodeInputs["seed"] = t.seedFn()
		}
		if _, has := nodeInputs["noise_seed"]; has {
			nodeInputs["noise_seed"] = t.seedFn()
		}
	}

	return workflow, nil
}

func randomSeed() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("workflow: read random seed: %v", err))
	}
	return binary.BigEndian.Uint32(b[:])
}
