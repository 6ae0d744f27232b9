package stack

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Unit is one runnable member of the stack.
type Unit struct {
	Name       string            `yaml:"name" json:"name"`
	Image      string            `yaml:"image" json:"image"`
	Port       string            `yaml:"port,omitempty" json:"port,omitempty"`
	HealthPath string            `yaml:"health_path,omitempty" json:"health_path,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Descriptor is the full stack definition for one environment's release.
// The raw serialized form is what gets snapshotted before a deploy.
type Descriptor struct {
	Units []Unit `yaml:"units" json:"units"`
}

// Load reads and parses a stack descriptor file, returning the parsed
// descriptor together with the raw bytes.
func Load(path string) (Descriptor, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, nil, fmt.Errorf("failed to read stack descriptor: %w", err)
	}
	d, err := Parse(raw)
	if err != nil {
		return Descriptor{}, nil, err
	}
	return d, raw, nil
}

// Parse decodes a serialized stack descriptor.
func Parse(raw []byte) (Descriptor, error) {
	var d Descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse stack descriptor: %w", err)
	}
	return d, nil
}

// Marshal serializes a descriptor back to its file form.
func (d Descriptor) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func (d Descriptor) Validate() error {
	if len(d.Units) == 0 {
		return fmt.Errorf("stack descriptor has no units")
	}
	seen := make(map[string]struct{}, len(d.Units))
	for _, u := range d.Units {
		if u.Name == "" {
			return fmt.Errorf("unit with empty name in stack descriptor")
		}
		if strings.ContainsAny(u.Name, " /:") {
			return fmt.Errorf("unit name %q contains invalid characters", u.Name)
		}
		if u.Image == "" {
			return fmt.Errorf("unit %q has no image", u.Name)
		}
		if strings.Contains(u.Image, ":") {
			return fmt.Errorf("unit %q image must not carry a tag, the target tag is supplied per deployment", u.Name)
		}
		if _, ok := seen[u.Name]; ok {
			return fmt.Errorf("duplicate unit name %q", u.Name)
		}
		seen[u.Name] = struct{}{}
	}
	return nil
}

// UnitNames returns the unit names in descriptor order.
func (d Descriptor) UnitNames() []string {
	names := make([]string, 0, len(d.Units))
	for _, u := range d.Units {
		names = append(names, u.Name)
	}
	return names
}

// Unit returns the unit with the given name.
func (d Descriptor) Unit(name string) (Unit, bool) {
	for _, u := range d.Units {
		if u.Name == name {
			return u, true
		}
	}
	return Unit{}, false
}

// ImageRef builds the full image reference for a unit at the given tag.
// The registry is prepended unless the image already names one.
func (u Unit) ImageRef(registry, tag string) string {
	image := u.Image
	if registry != "" && !hasRegistry(image) {
		image = registry + "/" + image
	}
	return fmt.Sprintf("%s:%s", image, tag)
}

// hasRegistry reports whether the image's first path segment is a
// registry host (contains a dot or port, per Docker's reference rules).
func hasRegistry(image string) bool {
	first, _, ok := strings.Cut(image, "/")
	return ok && (strings.Contains(first, ".") || strings.Contains(first, ":"))
}
