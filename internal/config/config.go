package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models memtech.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	LLM        LLMConfig        `yaml:"llm"`
	OnlyOffice OnlyOfficeConfig `yaml:"onlyoffice"`
	Catalog    struct {
		DocumentTypes []DocumentTypeSpec `yaml:"document_types"`
	} `yaml:"catalog"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver"`
	Root      string `yaml:"root"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type OnlyOfficeConfig struct {
	ServerURL string `yaml:"server_url"`
	PublicURL string `yaml:"public_url"`
	JWTSecret string `yaml:"jwt_secret"`
}

type DocumentTypeSpec struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Mandatory   bool   `yaml:"mandatory"`
}

var documentTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Load reads and validates memtech.yml from the workspace. A missing file yields defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "local":
	case "s3":
		if c.Storage.Endpoint == "" {
			return fmt.Errorf("config.storage.endpoint is required for driver s3")
		}
		if c.Storage.Bucket == "" {
			return fmt.Errorf("config.storage.bucket is required for driver s3")
		}
	default:
		return fmt.Errorf("config.storage.driver must be 'local' or 's3'")
	}
	if len(c.Catalog.DocumentTypes) == 0 {
		return fmt.Errorf("config.catalog.document_types is required")
	}
	seen := map[string]bool{}
	for _, dt := range c.Catalog.DocumentTypes {
		if !documentTypePattern.MatchString(dt.Type) {
			return fmt.Errorf("document type %q must be upper-case letters, digits or underscores", dt.Type)
		}
		if seen[dt.Type] {
			return fmt.Errorf("document type %s declared twice", dt.Type)
		}
		seen[dt.Type] = true
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("config.llm.max_tokens must be positive")
	}
	return nil
}

// TokenTTL parses auth.token_ttl, defaulting to 12h.
func (c *Config) TokenTTL() (time.Duration, error) {
	if c.Auth.TokenTTL == "" {
		return 12 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config.auth.token_ttl %q is not a positive duration", c.Auth.TokenTTL)
	}
	return d, nil
}

// StorageRoot resolves the local storage root against the workspace.
func (c *Config) StorageRoot(workspace string) string {
	root := c.Storage.Root
	if root == "" {
		root = filepath.Join(".memtech", "files")
	}
	if filepath.IsAbs(root) {
		return root
	}
	return filepath.Join(workspace, root)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "memtech.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Catalog.DocumentTypes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.Catalog.DocumentTypes) == 0 {
		cfg.Catalog.DocumentTypes = Default().Catalog.DocumentTypes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  # jwt_secret is read from MEMTECH_JWT_SECRET when empty.
  jwt_secret: ""
  token_ttl: 12h

redis:
  # Token revocation falls back to process memory when empty.
  url: ""

storage:
  driver: local
  root: .memtech/files
  bucket: memtech

llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  temperature: 0.2
  max_tokens: 2000

onlyoffice:
  server_url: ""
  public_url: http://127.0.0.1:8080
  jwt_secret: ""

catalog:
  document_types:
    - type: MEMO_TECHNIQUE
      description: "Mémoire technique"
    - type: SOGED
      description: "Schéma d'Organisation et de Gestion des Déchets"
    - type: SOPAQ
      description: "Schéma Organisationnel du Plan d'Assurance Qualité"
    - type: SOPRE
      description: "Schéma Organisationnel du Plan de Respect de l'Environnement"
    - type: PPSPS
      description: "Plan Particulier de Sécurité et de Protection de la Santé"
    - type: PAQ
      description: "Plan d'Assurance Qualité"
`
