package bookmarks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	KindAzure         = "azure"
	KindElasticsearch = "elasticsearch"
)

// Bookmark contains information about a bookmarked search service connection
type Bookmark struct {
	Kind      string   `json:"kind" mapstructure:"kind"`
	Service   string   `json:"service" mapstructure:"service"`
	APIKey    string   `json:"api_key" mapstructure:"api_key"`
	Addresses []string `json:"addresses" mapstructure:"addresses"`
	User      string   `json:"user" mapstructure:"user"`
	Password  string   `json:"password" mapstructure:"password"`
	Alias     string   `json:"alias" mapstructure:"alias"`
}

var Services = map[string]Bookmark{}

// Validate fills in the default kind and checks that the bookmark can be
// connected to.
func (b *Bookmark) Validate() error {
	b.Kind = strings.ToLower(strings.TrimSpace(b.Kind))
	if b.Kind == "" {
		b.Kind = KindAzure
	}

	switch b.Kind {
	case KindAzure:
		if b.Service == "" {
			return fmt.Errorf("azure search service name is required")
		}
		if b.APIKey == "" {
			return fmt.Errorf("api key for service %s is required", b.Service)
		}
	case KindElasticsearch:
		if len(b.Addresses) == 0 && b.Service != "" {
			b.Addresses = []string{b.Service}
		}
		if len(b.Addresses) == 0 {
			return fmt.Errorf("elasticsearch address is required")
		}
	default:
		return fmt.Errorf("unknown service kind %q", b.Kind)
	}
	return nil
}

// Load reads the bookmark file named "bookmark" (json, yaml or toml) from dir.
// A missing file is not an error.
func Load(dir string) error {
	v := viper.New()
	v.SetConfigName("bookmark")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("bookmark parser error: %s", err)
	}

	for name, conf := range v.AllSettings() {
		b := Bookmark{}
		if err := mapstructure.Decode(conf, &b); err != nil {
			return fmt.Errorf("parse %s config failed: %s", name, err)
		}
		if b.Alias == "" {
			b.Alias = name
		}
		Services[name] = b
	}
	return nil
}

func GetServiceConfig(name string) (Bookmark, error) {
	conf, ok := Services[strings.ToLower(name)]
	if !ok {
		return Bookmark{}, fmt.Errorf("couldn't find a config with name %s", name)
	}
	return conf, nil
}

// return all bookmark names
func GetBookmarks() []string {
	c := make([]string, 0, len(Services))
	for k := range Services {
		c = append(c, k)
	}
	sort.Strings(c)
	return c
}
