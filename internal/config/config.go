package config

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"gopkg.in/yaml.v2"
)

// ProviderType identifies which cloud backend serves the driver.
type ProviderType string

const (
	ProviderGCE          ProviderType = "gce"
	ProviderAWS          ProviderType = "aws"
	ProviderDigitalOcean ProviderType = "digitalocean"
	ProviderYandexCloud  ProviderType = "yandex_cloud"
)

// Defaults applied before the config file and environment are consulted.
const (
	DefaultArea         = "us"
	DefaultMachineType  = "n1-standard-1"
	DefaultNetwork      = "default"
	DefaultDiskType     = "pd-standard"
	DefaultDiskSize     = 10 // in GB
	DefaultSSHPort      = 22
	DefaultWaitAttempts = 60
	DefaultWaitInterval = 5 // in seconds
)

// AWSConfig holds EC2 connection parameters. Empty credentials fall
// back to the SDK default chain.
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DigitalOceanConfig holds the API token used for droplet provisioning.
type DigitalOceanConfig struct {
	Token string `yaml:"token"`
}

// YandexCloudConfig holds Yandex Cloud connection parameters.
type YandexCloudConfig struct {
	IAMToken string `yaml:"iam_token"`
	FolderID string `yaml:"folder_id"`
	SubnetID string `yaml:"subnet_id"`
}

// Config contains driver configuration
type Config struct {
	Provider ProviderType `yaml:"provider"`

	// Instance shape
	Area        string            `yaml:"area"`
	ZoneName    string            `yaml:"zone_name"`
	InstName    string            `yaml:"inst_name"`
	BaseName    string            `yaml:"base_name"`
	MachineType string            `yaml:"machine_type"`
	Network     string            `yaml:"network"`
	Subnetwork  string            `yaml:"subnetwork"`
	Tags        []string          `yaml:"tags"`
	Username    string            `yaml:"username"`
	Preemptible bool              `yaml:"preemptible"`
	Metadata    map[string]string `yaml:"metadata"`

	// Boot disk parameters
	ImageName string `yaml:"image_name"`
	DiskSize  int64  `yaml:"disk_size"` // in GB
	DiskType  string `yaml:"disk_type"`

	// Google Compute Engine service account access
	GoogleClientEmail string `yaml:"google_client_email"`
	GoogleKeyLocation string `yaml:"google_key_location"`
	GoogleProject     string `yaml:"google_project"`

	// Alternate provider connection parameters
	AWS          *AWSConfig          `yaml:"aws"`
	DigitalOcean *DigitalOceanConfig `yaml:"digitalocean"`
	YandexCloud  *YandexCloudConfig  `yaml:"yandex_cloud"`

	// Readiness polling
	WaitAttempts  int    `yaml:"wait_attempts"`
	WaitInterval  int    `yaml:"wait_interval"` // in seconds
	SSHPort       int    `yaml:"ssh_port"`
	ReadinessHTTP string `yaml:"readiness_http"`

	// Post-create access and setup
	SSHPublicKey  string   `yaml:"ssh_public_key"`
	SSHKeyDir     string   `yaml:"ssh_key_dir"`
	SetupCommands []string `yaml:"setup_commands"`

	// Instance state persistence
	StateDir      string   `yaml:"state_dir"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// UserLookup resolves the login name used when no username is set in
// the config file. Injectable so tests run without a real account.
type UserLookup func() (string, error)

// CurrentUser returns the name of the account running the process.
func CurrentUser() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to resolve current user: %w", err)
	}
	return u.Username, nil
}

// Load loads configuration from a YAML file. An empty path falls back
// to CONFIG_PATH and then to testkiln.yaml in the working directory. A
// missing file is not an error: defaults and environment overrides
// still apply.
func Load(path string) (*Config, error) {
	return LoadWithLookup(path, CurrentUser)
}

// LoadWithLookup is Load with an explicit login-name resolver.
func LoadWithLookup(path string, lookup UserLookup) (*Config, error) {
	config := &Config{
		Provider:     ProviderGCE,
		Area:         DefaultArea,
		MachineType:  DefaultMachineType,
		Network:      DefaultNetwork,
		Tags:         []string{},
		DiskSize:     DefaultDiskSize,
		DiskType:     DefaultDiskType,
		SSHPort:      DefaultSSHPort,
		WaitAttempts: DefaultWaitAttempts,
		WaitInterval: DefaultWaitInterval,
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "testkiln.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Expand environment variables in string fields
	config.GoogleClientEmail = os.ExpandEnv(config.GoogleClientEmail)
	config.GoogleKeyLocation = os.ExpandEnv(config.GoogleKeyLocation)
	config.GoogleProject = os.ExpandEnv(config.GoogleProject)
	config.ImageName = os.ExpandEnv(config.ImageName)
	config.SSHKeyDir = os.ExpandEnv(config.SSHKeyDir)
	config.StateDir = os.ExpandEnv(config.StateDir)

	for i, cmd := range config.SetupCommands {
		config.SetupCommands[i] = os.ExpandEnv(cmd)
	}

	// Override with environment variables if set
	if email := os.Getenv("GOOGLE_CLIENT_EMAIL"); email != "" {
		config.GoogleClientEmail = email
	}

	if keyPath := os.Getenv("GOOGLE_KEY_LOCATION"); keyPath != "" {
		config.GoogleKeyLocation = keyPath
	}

	if project := os.Getenv("GOOGLE_PROJECT"); project != "" {
		config.GoogleProject = project
	}

	if token := os.Getenv("DIGITALOCEAN_TOKEN"); token != "" {
		if config.DigitalOcean == nil {
			config.DigitalOcean = &DigitalOceanConfig{}
		}
		config.DigitalOcean.Token = token
	}

	if token := os.Getenv("YC_TOKEN"); token != "" {
		if config.YandexCloud == nil {
			config.YandexCloud = &YandexCloudConfig{}
		}
		config.YandexCloud.IAMToken = token
	}

	if folderID := os.Getenv("YC_FOLDER_ID"); folderID != "" {
		if config.YandexCloud == nil {
			config.YandexCloud = &YandexCloudConfig{}
		}
		config.YandexCloud.FolderID = folderID
	}

	if config.Username == "" {
		name, err := lookup()
		if err != nil {
			return nil, fmt.Errorf("failed to default username: %w", err)
		}
		config.Username = name
	}

	switch config.Provider {
	case ProviderGCE, ProviderAWS, ProviderDigitalOcean, ProviderYandexCloud:
	default:
		return nil, fmt.Errorf("unsupported provider type: %v", config.Provider)
	}

	return config, nil
}

// WaitDelay returns the readiness poll interval as a duration.
func (c *Config) WaitDelay() time.Duration {
	return time.Duration(c.WaitInterval) * time.Second
}
