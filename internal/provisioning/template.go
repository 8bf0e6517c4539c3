package provisioning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template holds realm settings that are the same for every company.
//
//	defaultLocale: pt-BR
//	accessTokenLifespan: 300
//	web:
//	  redirectUris: ["https://app.example.com/*"]
//	  webOrigins: ["+"]
//	roleDescriptions:
//	  Accountant: Books and invoices
type Template struct {
	DefaultLocale       string `yaml:"defaultLocale"`
	AccessTokenLifespan int    `yaml:"accessTokenLifespan"`
	Web                 struct {
		RedirectURIs []string `yaml:"redirectUris"`
		WebOrigins   []string `yaml:"webOrigins"`
	} `yaml:"web"`
	RoleDescriptions map[string]string `yaml:"roleDescriptions"`
}

// LoadTemplate reads a YAML template. An empty path yields the zero template,
// which keeps the identity provider's defaults.
func LoadTemplate(path string) (Template, error) {
	if path == "" {
		return Template{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read realm template: %w", err)
	}
	return ParseTemplate(b)
}

func ParseTemplate(b []byte) (Template, error) {
	var t Template
	if err := yaml.Unmarshal(b, &t); err != nil {
		return Template{}, fmt.Errorf("parse realm template: %w", err)
	}
	if t.AccessTokenLifespan < 0 {
		return Template{}, fmt.Errorf("parse realm template: accessTokenLifespan must not be negative")
	}
	for name := range t.RoleDescriptions {
		if !IsCatalogRole(name) {
			return Template{}, fmt.Errorf("parse realm template: unknown role %q", name)
		}
	}
	return t, nil
}

func (t Template) roleDescription(name, fallback string) string {
	if d, ok := t.RoleDescriptions[name]; ok && d != "" {
		return d
	}
	return fallback
}
