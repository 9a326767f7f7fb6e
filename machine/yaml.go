package machine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileDescription is the on-disk form of a Description. Synthetic targets
// (tiny register files that force spilling) are the main use.
type fileDescription struct {
	Name     string `yaml:"name"`
	CanSwap  bool   `yaml:"canSwap"`
	PairedFP bool   `yaml:"pairedFloat"`
	Regs     []struct {
		Name        string `yaml:"name"`
		Class       string `yaml:"class"`
		CalleeSaved bool   `yaml:"calleeSaved"`
		Reserved    bool   `yaml:"reserved"`
	} `yaml:"registers"`
}

// Load parses a YAML target description.
func Load(data []byte) (*Description, error) {
	var fd fileDescription
	if err := yaml.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("invalid target description: %w", err)
	}
	var regs []Register
	var calleeSaved, reserved RegMask
	for i, r := range fd.Regs {
		var kind ClassKind
		switch r.Class {
		case "int", "":
			kind = ClassInt
		case "float":
			kind = ClassFloat
		default:
			return nil, fmt.Errorf("register %q: unknown class %q", r.Name, r.Class)
		}
		regs = append(regs, Register{Name: r.Name, Code: int16(i), Kind: kind})
		if r.CalleeSaved {
			calleeSaved |= Bit(i)
		}
		if r.Reserved {
			reserved |= Bit(i)
		}
	}
	shape := ShapeSingle
	if fd.PairedFP {
		shape = ShapePair
	}
	return New(fd.Name, regs, calleeSaved, reserved, fd.CanSwap, shape)
}

// LoadFile reads a YAML target description from path.
func LoadFile(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}
