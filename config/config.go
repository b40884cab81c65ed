/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/forgelabs/forge/model"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DEFAULT_PORT                   = "5001"
	DEFAULT_WORKER_TIMEOUT_SECONDS = 8
	DEFAULT_EXPIRY_POLL_SECONDS    = 60
	DEFAULT_EXPIRY_AFTER_SECONDS   = 3600
	DEFAULT_EXPIRY_MAX_WORKERS     = 5
	DEFAULT_EXPIRY_BATCH_SIZE      = 200
	DEFAULT_WEBHOOK_QUEUE          = "forge_webhooks"
	DEFAULT_MONITORING_PORT        = "5004"
	DEFAULT_JOB_VIEW_TTL_SECONDS   = 300
	DEFAULT_SIGNATURE_HEADER       = "X-Forge-Signature"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"FORGE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"FORGE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"FORGE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"FORGE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"FORGE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"FORGE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"FORGE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"FORGE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"FORGE_REDIS_SKIP_TLS_VERIFY"`
}

// AuthConfig configures verification of the identity provider's access tokens.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" envconfig:"FORGE_AUTH_JWT_SECRET"`
	Audience  string `json:"audience" envconfig:"FORGE_AUTH_AUDIENCE"`
}

// WorkerConfig describes the external compute worker jobs are dispatched to.
type WorkerConfig struct {
	BaseURL        string `json:"base_url" envconfig:"FORGE_WORKER_BASE_URL"`
	ApiKey         string `json:"api_key" envconfig:"FORGE_WORKER_API_KEY"`
	CallbackSecret string `json:"callback_secret" envconfig:"FORGE_WORKER_CALLBACK_SECRET"`
	CallbackURL    string `json:"callback_url" envconfig:"FORGE_WORKER_CALLBACK_URL"`
	TimeoutSeconds int    `json:"timeout_seconds" envconfig:"FORGE_WORKER_TIMEOUT_SECONDS"`
}

// FeatureConfig overrides the built in descriptor of a feature. Unset fields keep the built in value.
type FeatureConfig struct {
	Cost                    *int64 `json:"cost,omitempty" yaml:"cost"`
	WorkerPath              string `json:"worker_path,omitempty" yaml:"worker_path"`
	Disabled                bool   `json:"disabled,omitempty" yaml:"disabled"`
	RefundOnDispatchFailure *bool  `json:"refund_on_dispatch_failure,omitempty" yaml:"refund_on_dispatch_failure"`
	RefundOnWorkerFailure   *bool  `json:"refund_on_worker_failure,omitempty" yaml:"refund_on_worker_failure"`
	RefundOnExpiry          *bool  `json:"refund_on_expiry,omitempty" yaml:"refund_on_expiry"`
	ExpiryAfterSeconds      int    `json:"expiry_after_seconds,omitempty" yaml:"expiry_after_seconds"`
	UsageCreditsPerSecond   string `json:"usage_credits_per_second,omitempty" yaml:"usage_credits_per_second"`
	UsageIncludedSeconds    string `json:"usage_included_seconds,omitempty" yaml:"usage_included_seconds"`
}

type ExpiryConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" envconfig:"FORGE_EXPIRY_POLL_INTERVAL_SECONDS"`
	DefaultAfterSeconds int `json:"default_after_seconds" envconfig:"FORGE_EXPIRY_DEFAULT_AFTER_SECONDS"`
	MaxWorkers          int `json:"max_workers" envconfig:"FORGE_EXPIRY_MAX_WORKERS"`
	BatchSize           int `json:"batch_size" envconfig:"FORGE_EXPIRY_BATCH_SIZE"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"FORGE_QUEUE_WEBHOOK_QUEUE"`
	MonitoringPort string `json:"monitoring_port" envconfig:"FORGE_QUEUE_MONITORING_PORT"`
}

type CacheConfig struct {
	JobViewTTLSeconds int `json:"job_view_ttl_seconds" envconfig:"FORGE_CACHE_JOB_VIEW_TTL_SECONDS"`
}

// StorageConfig points at an S3 compatible bucket (Cloudflare R2 in production).
type StorageConfig struct {
	Endpoint        string `json:"endpoint" envconfig:"FORGE_STORAGE_ENDPOINT"`
	Region          string `json:"region" envconfig:"FORGE_STORAGE_REGION"`
	Bucket          string `json:"bucket" envconfig:"FORGE_STORAGE_BUCKET"`
	AccessKeyID     string `json:"access_key_id" envconfig:"FORGE_STORAGE_ACCESS_KEY_ID"`
	SecretAccessKey string `json:"secret_access_key" envconfig:"FORGE_STORAGE_SECRET_ACCESS_KEY"`
	PublicBaseURL   string `json:"public_base_url" envconfig:"FORGE_STORAGE_PUBLIC_BASE_URL"`
}

// Enabled reports whether uploads can be served.
func (s StorageConfig) Enabled() bool {
	return s.Bucket != "" && s.PublicBaseURL != ""
}

type PaymentProvider struct {
	SigningSecret string   `json:"signing_secret"`
	GrantEvents   []string `json:"grant_events"`
}

type PaymentsConfig struct {
	SignatureHeader string                     `json:"signature_header" envconfig:"FORGE_PAYMENTS_SIGNATURE_HEADER"`
	Providers       map[string]PaymentProvider `json:"providers" ignored:"true"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"FORGE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"FORGE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"FORGE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"FORGE_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"FORGE_NOTIFICATION_WEBHOOK_URL"`
	Headers map[string]string `json:"headers" ignored:"true"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type PosthogConfig struct {
	ApiKey   string `json:"api_key" envconfig:"FORGE_POSTHOG_API_KEY"`
	Endpoint string `json:"endpoint" envconfig:"FORGE_POSTHOG_ENDPOINT"`
}

type Configuration struct {
	ProjectName     string                   `json:"project_name" envconfig:"FORGE_PROJECT_NAME"`
	Server          ServerConfig             `json:"server"`
	DataSource      DataSourceConfig         `json:"data_source"`
	Redis           RedisConfig              `json:"redis"`
	Auth            AuthConfig               `json:"auth"`
	Worker          WorkerConfig             `json:"worker"`
	Features        map[string]FeatureConfig `json:"features" ignored:"true"`
	FeaturesFile    string                   `json:"features_file" envconfig:"FORGE_FEATURES_FILE"`
	Expiry          ExpiryConfig             `json:"expiry"`
	Queue           QueueConfig              `json:"queue"`
	Cache           CacheConfig              `json:"cache"`
	Storage         StorageConfig            `json:"storage"`
	Payments        PaymentsConfig           `json:"payments"`
	Notification    Notification             `json:"notification"`
	RateLimit       RateLimitConfig          `json:"rate_limit"`
	EnableTelemetry bool                     `json:"enable_telemetry" envconfig:"FORGE_ENABLE_TELEMETRY"`
	Posthog         PosthogConfig            `json:"posthog"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("forge", &cnf)
	if err != nil {
		return err
	}

	if cnf.FeaturesFile != "" {
		if err := cnf.loadFeatureCatalog(cnf.FeaturesFile); err != nil {
			return err
		}
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

// loadFeatureCatalog merges a YAML feature catalog into the feature overrides.
// Entries already present in the JSON config win over the catalog.
func (cnf *Configuration) loadFeatureCatalog(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading features file: %w", err)
	}

	var catalog struct {
		Features map[string]FeatureConfig `yaml:"features"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("parsing features file: %w", err)
	}

	if cnf.Features == nil {
		cnf.Features = make(map[string]FeatureConfig, len(catalog.Features))
	}
	for kind, feature := range catalog.Features {
		if _, exists := cnf.Features[kind]; exists {
			continue
		}
		cnf.Features[kind] = feature
	}
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called forge.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Forge Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Worker.BaseURL = strings.TrimRight(strings.TrimSpace(cnf.Worker.BaseURL), "/")
	cnf.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cnf.Storage.PublicBaseURL), "/")

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Worker.TimeoutSeconds <= 0 {
		cnf.Worker.TimeoutSeconds = DEFAULT_WORKER_TIMEOUT_SECONDS
	}
	if cnf.Worker.BaseURL == "" {
		log.Println("Warning: Worker base URL is empty. Every dispatch will fail.")
	}
	if cnf.Worker.CallbackSecret == "" {
		log.Println("Warning: Worker callback secret is empty. Worker callbacks will be rejected.")
	}

	for kind := range cnf.Features {
		if !isKnownFeature(kind) {
			return fmt.Errorf("unknown feature %q in features config", kind)
		}
	}

	if cnf.Expiry.PollIntervalSeconds <= 0 {
		cnf.Expiry.PollIntervalSeconds = DEFAULT_EXPIRY_POLL_SECONDS
	}
	if cnf.Expiry.DefaultAfterSeconds <= 0 {
		cnf.Expiry.DefaultAfterSeconds = DEFAULT_EXPIRY_AFTER_SECONDS
	}
	if cnf.Expiry.MaxWorkers <= 0 {
		cnf.Expiry.MaxWorkers = DEFAULT_EXPIRY_MAX_WORKERS
	}
	if cnf.Expiry.BatchSize <= 0 {
		cnf.Expiry.BatchSize = DEFAULT_EXPIRY_BATCH_SIZE
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}

	if cnf.Cache.JobViewTTLSeconds <= 0 {
		cnf.Cache.JobViewTTLSeconds = DEFAULT_JOB_VIEW_TTL_SECONDS
	}

	if cnf.Payments.SignatureHeader == "" {
		cnf.Payments.SignatureHeader = DEFAULT_SIGNATURE_HEADER
	}

	if cnf.Posthog.Endpoint == "" {
		cnf.Posthog.Endpoint = "https://us.i.posthog.com"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func isKnownFeature(kind string) bool {
	for _, k := range model.FeatureKinds {
		if string(k) == kind {
			return true
		}
	}
	return false
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
