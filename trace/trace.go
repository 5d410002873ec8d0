package trace

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	OpMalloc  = "malloc"
	OpCalloc  = "calloc"
	OpRealloc = "realloc"
	OpFree    = "free"
)

// Trace is a recorded sequence of allocator calls. Pointers are named by id.
type Trace struct {
	Name string `yaml:"name"`
	Ops  []Op   `yaml:"ops"`
}

type Op struct {
	Op    string `yaml:"op"`
	ID    string `yaml:"id"`
	Size  uint64 `yaml:"size,omitempty"`
	Count uint64 `yaml:"count,omitempty"`
	// Fill is written over the whole payload after the call when set.
	Fill *byte `yaml:"fill,omitempty"`
}

func Load(r io.Reader) (*Trace, error) {
	t := new(Trace)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(t)
	if err != nil {
		return nil, errors.Wrap(err, "decode trace")
	}
	err = t.Validate()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func LoadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open trace")
	}
	defer func() { _ = f.Close() }()
	t, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	if t.Name == "" {
		t.Name = path
	}
	return t, nil
}

// Validate checks that every op is known and only refers to live ids.
func (t *Trace) Validate() error {
	live := make(map[string]bool)
	for i, op := range t.Ops {
		if op.ID == "" {
			return errors.Errorf("op %d: missing id", i)
		}
		switch op.Op {
		case OpMalloc:
			if live[op.ID] {
				return errors.Errorf("op %d: malloc of live id %q", i, op.ID)
			}
			live[op.ID] = true
		case OpCalloc:
			if live[op.ID] {
				return errors.Errorf("op %d: calloc of live id %q", i, op.ID)
			}
			if op.Count == 0 {
				op.Count = 1
				t.Ops[i].Count = 1
			}
			live[op.ID] = true
		case OpRealloc:
			live[op.ID] = op.Size != 0
		case OpFree:
			if !live[op.ID] {
				return errors.Errorf("op %d: free of unknown id %q", i, op.ID)
			}
			delete(live, op.ID)
		default:
			return errors.Errorf("op %d: unknown op %q", i, op.Op)
		}
	}
	return nil
}
