package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// namePrefix namespaces every container this tool manages, so that
	// proxies for unrelated configurations never collide by name.
	namePrefix = "rdsproxy"

	DefaultLocalPort = 1337
	DefaultImageTag  = "latest"
)

// ErrNotFound is returned when the configuration file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// InvalidError reports a configuration that was read but cannot be used:
// malformed JSON, unknown keys, or required fields left empty.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string {
	return "invalid configuration: " + e.Reason
}

// Config describes one proxy setup: the bastion to tunnel through, the RDS
// endpoint behind it, the local listener, and the image that implements the
// tunnel. It is loaded once per invocation and never mutated.
type Config struct {
	BastionInstanceID  string `json:"bastion_instance_id" validate:"required"`
	RDSEndpoint        string `json:"rds_endpoint" validate:"required"`
	AWSAccessKeyID     string `json:"aws_access_key_id" validate:"required"`
	AWSSecretAccessKey string `json:"aws_secret_access_key" validate:"required"`
	AWSRegion          string `json:"aws_region" validate:"required"`
	LocalPort          int    `json:"local_port" validate:"required,min=1,max=65535"`
	DBUser             string `json:"db_user" validate:"required"`
	DBPassword         string `json:"db_password" validate:"required"`
	DBName             string `json:"db_name" validate:"required"`
	ConnectionString   string `json:"connection_string"`
	Image              string `json:"image" validate:"required"`
	ImageTag           string `json:"image_tag"`

	path string
}

// Field groups each command must have present before it runs. Commands that
// only name the container (status, stop, logs) need nothing beyond the file.
var (
	StartFields = []string{
		"BastionInstanceID", "RDSEndpoint",
		"AWSAccessKeyID", "AWSSecretAccessKey", "AWSRegion",
		"LocalPort", "DBUser", "DBPassword", "DBName", "Image",
	}
	TestFields = []string{"LocalPort", "DBUser", "DBPassword", "DBName"}
)

var validate = validator.New()

func init() {
	// Report json field names in validation errors, not Go field names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Load reads and strictly decodes the configuration file at path. AWS
// credentials and region from the environment (optionally a .env file) take
// precedence over the file. Missing fields are not an error here; commands
// declare what they need via Require.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug("loaded environment overrides from .env")
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s (create it or pass --config)", path)
		}
		return nil, errors.Wrapf(err, "open configuration %s", path)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, &InvalidError{Reason: err.Error()}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve configuration path %s", path)
	}
	cfg.path = abs

	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWSAccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWSSecretAccessKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}

	if cfg.LocalPort == 0 {
		cfg.LocalPort = DefaultLocalPort
	}
	if cfg.ImageTag == "" {
		cfg.ImageTag = DefaultImageTag
	}
	if cfg.ConnectionString == "" {
		cfg.ConnectionString = fmt.Sprintf("postgresql://%s:%s@127.0.0.1:%d/%s",
			cfg.DBUser, cfg.DBPassword, cfg.LocalPort, cfg.DBName)
	}

	return cfg, nil
}

// Require validates that the named fields are present and well-formed,
// returning an InvalidError listing every missing one.
func (c *Config) Require(fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	err := validate.StructPartial(c, fields...)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &InvalidError{Reason: err.Error()}
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &InvalidError{Reason: "missing or invalid field(s): " + strings.Join(missing, ", ")}
}

// Path returns the absolute path the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// ContainerName derives the stable runtime name for this configuration. It
// depends only on the file's base name, so repeated invocations against the
// same file always address the same container.
func (c *Config) ContainerName() string {
	return DeriveName(c.path)
}

// DeriveName strips the directory and extension from path and prefixes the
// remainder with the tool namespace. The extension is only dropped when a
// stem remains, so dotfile-style names like ".json" keep their identity
// instead of all collapsing to the bare prefix.
func DeriveName(path string) string {
	base := filepath.Base(path)
	if stem := strings.TrimSuffix(base, filepath.Ext(base)); stem != "" {
		base = stem
	}
	return namePrefix + "_" + base
}

// LocalEndpoint is the address clients connect to once the proxy is up.
func (c *Config) LocalEndpoint() string {
	return fmt.Sprintf("127.0.0.1:%d", c.LocalPort)
}

// PostgresDSN builds the lib/pq connection string for the local endpoint.
// TLS terminates at the proxy, so the local hop stays plain.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=127.0.0.1 port=%d user=%s password=%s dbname=%s sslmode=disable connect_timeout=10",
		c.LocalPort, c.DBUser, c.DBPassword, c.DBName)
}
