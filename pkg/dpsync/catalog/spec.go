package catalog

import (
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
)

// Source types.
const (
	TypeFS      = "fs"
	TypeHTTP    = "http"
	TypeMirrors = "mirrors"
)

// Spec describes a source in configuration.
type Spec struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Type    string `mapstructure:"type" yaml:"type" json:"type"`
	Path    string `mapstructure:"path" yaml:"path,omitempty" json:"path,omitempty"`
	URL     string `mapstructure:"url" yaml:"url,omitempty" json:"url,omitempty"`
	Mirrors []Spec `mapstructure:"mirrors" yaml:"mirrors,omitempty" json:"mirrors,omitempty"`
}

// Validate checks the spec without touching the source.
func (s Spec) Validate() error {
	if s.Name == "" {
		return retry.Errorf(retry.CategoryConfiguration, "source name is required")
	}
	switch s.Type {
	case TypeFS:
		if s.Path == "" {
			return retry.Errorf(retry.CategoryConfiguration, "source %s: path is required", s.Name)
		}
	case TypeHTTP:
		if s.URL == "" {
			return retry.Errorf(retry.CategoryConfiguration, "source %s: url is required", s.Name)
		}
	case TypeMirrors:
		if len(s.Mirrors) == 0 {
			return retry.Errorf(retry.CategoryConfiguration, "source %s: at least one mirror is required", s.Name)
		}
		for _, m := range s.Mirrors {
			if m.Type == TypeMirrors {
				return retry.Errorf(retry.CategoryConfiguration, "source %s: mirrors cannot nest", s.Name)
			}
			if err := m.Validate(); err != nil {
				return err
			}
		}
	default:
		return retry.Errorf(retry.CategoryConfiguration, "source %s: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// New builds the adapter described by s. Single sources are guarded by
// their own breaker; mirror sets guard each mirror.
func New(s Spec, reg *retry.Registry, p retry.Policy) (Adapter, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Type {
	case TypeFS:
		return Guard(NewFS(s.Name, s.Path), reg, p), nil
	case TypeHTTP:
		a, err := NewHTTP(s.Name, s.URL, nil)
		if err != nil {
			return nil, err
		}
		return Guard(a, reg, p), nil
	default:
		mirrors := make([]Adapter, 0, len(s.Mirrors))
		for _, ms := range s.Mirrors {
			var a Adapter
			if ms.Type == TypeFS {
				a = NewFS(ms.Name, ms.Path)
			} else {
				h, err := NewHTTP(ms.Name, ms.URL, nil)
				if err != nil {
					return nil, err
				}
				a = h
			}
			mirrors = append(mirrors, a)
		}
		return NewMirrorSet(s.Name, reg, p, mirrors...), nil
	}
}
