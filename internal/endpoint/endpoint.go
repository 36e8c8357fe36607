package endpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	NameRender = "render"
	NameLocal  = "local"
)

// ErrNotFound is returned when a name is not part of the registry
var ErrNotFound = errors.New("endpoint not found")

// Endpoint is a named base address requests are directed to
type Endpoint struct {
	Name      string `validate:"required"`
	BaseURL   string `validate:"omitempty,uri"` // absolute URL or path prefix resolved against the origin
	ColdStart bool   // deploy target that sleeps when idle
}

// Registry holds the fixed set of endpoints a session may select from
type Registry struct {
	endpoints   []Endpoint
	defaultName string
}

// registrySpec mirrors Registry with exported fields so the validator can see them
type registrySpec struct {
	Endpoints []Endpoint `validate:"required,min=1,unique=Name,dive"`
}

var validate = validator.New()

// DefaultEndpoints returns the built-in deployment targets
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: NameRender, BaseURL: "https://backend-rag-ia.onrender.com", ColdStart: true},
		{Name: NameLocal, BaseURL: "http://localhost:8000"},
	}
}

// NewRegistry validates the endpoint list and the default selection
func NewRegistry(endpoints []Endpoint, defaultName string) (*Registry, error) {
	list := make([]Endpoint, len(endpoints))
	copy(list, endpoints)
	for i := range list {
		list[i].BaseURL = strings.TrimSuffix(list[i].BaseURL, "/")
	}

	if err := validate.Struct(registrySpec{Endpoints: list}); err != nil {
		return nil, fmt.Errorf("invalid endpoint list: %w", err)
	}

	r := &Registry{endpoints: list}
	if defaultName == "" {
		defaultName = list[0].Name
	}
	if _, err := r.Resolve(defaultName); err != nil {
		return nil, fmt.Errorf("default endpoint %q: %w", defaultName, err)
	}
	r.defaultName = defaultName
	return r, nil
}

// List returns the endpoints in declaration order
func (r *Registry) List() []Endpoint {
	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Resolve looks an endpoint up by name
func (r *Registry) Resolve(name string) (Endpoint, error) {
	for _, ep := range r.endpoints {
		if ep.Name == name {
			return ep, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Default returns the endpoint a new session starts with
func (r *Registry) Default() Endpoint {
	ep, _ := r.Resolve(r.defaultName)
	return ep
}

// Names returns the endpoint names, for help and prompts
func (r *Registry) Names() []string {
	names := make([]string, len(r.endpoints))
	for i, ep := range r.endpoints {
		names[i] = ep.Name
	}
	return names
}

// Parse reads endpoints written as "name=url[|coldstart];name2=url2".
func Parse(raw string) ([]Endpoint, error) {
	var out []Endpoint
	for _, item := range strings.Split(raw, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, rest, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("malformed endpoint %q: expected name=url", item)
		}
		baseURL, flag, _ := strings.Cut(rest, "|")
		ep := Endpoint{
			Name:    strings.TrimSpace(name),
			BaseURL: strings.TrimSpace(baseURL),
		}
		switch strings.TrimSpace(flag) {
		case "":
		case "coldstart":
			ep.ColdStart = true
		default:
			return nil, fmt.Errorf("unknown endpoint flag %q in %q", flag, item)
		}
		out = append(out, ep)
	}
	return out, nil
}

// Merge appends extra endpoints, replacing built-ins that share a name.
func Merge(base, extra []Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, ep := range extra {
		replaced := false
		for i := range out {
			if out[i].Name == ep.Name {
				out[i] = ep
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, ep)
		}
	}
	return out
}
