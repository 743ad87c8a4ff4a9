// Package config loads the pipeline's environment-variable configuration
// into one typed Config value, constructed once in cmd/pipeline and
// passed down through constructors — spec §9 calls out the historical
// implementation's module-global config dict as state to avoid repeating.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every environment variable spec §6 lists.
type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	ConnTimeout time.Duration

	// Bulk Data Service
	BDSDatasetIndexURL      string
	BDSReportingOrgIndexURL string
	BDSTimeout              time.Duration

	// Validation services
	SchemaValidationURL string
	FullValidationURL   string
	ValidationKeyName   string
	ValidationKeyValue  string

	// Object store
	ObjectStoreEndpoint  string
	ObjectStoreRegion    string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	SourceContainer      string
	CleanContainer       string
	LakeContainer        string

	// Search index
	SolrBaseURL  string
	SolrUser     string
	SolrPassword string
	SolrTimeout  time.Duration

	// Black-flag notification
	BlackFlagNotifyURL string

	// Tunables
	ParallelProcesses        int
	SafetyCheckPeriodHours   int
	SafetyCheckThreshold     int
	PublisherSafetyPercentage int
	DocumentSafetyPercentage  int
	ServiceLoopSleep          time.Duration
	RetryErrorsAfterLoop      int
	MaxBlobDelete             int
	Solr500Sleep              time.Duration
	MaxBatchLength            int
	ExplodeElements           []string
	ExplodeElementCores      map[string]string

	SleepStart time.Duration
	SleepMax   time.Duration
	RetryLimit int

	AdminListenAddr string
}

// Load reads every variable from the environment, applying the defaults
// the teacher applies for its own CLI flags and failing fast on missing
// required fields rather than discovering the gap mid-pass.
func Load() (Config, error) {
	cfg := Config{
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 5432),
		DBName:      getEnv("DB_NAME", "iati"),
		DBUser:      getEnv("DB_USER", "iati"),
		DBPassword:  os.Getenv("DB_PASSWORD"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		ConnTimeout: getEnvDuration("DB_CONN_TIMEOUT", 10*time.Second),

		BDSDatasetIndexURL:      os.Getenv("BDS_DATASET_INDEX_URL"),
		BDSReportingOrgIndexURL: os.Getenv("BDS_REPORTING_ORG_INDEX_URL"),
		BDSTimeout:              getEnvDuration("BDS_TIMEOUT", 30*time.Second),

		SchemaValidationURL: os.Getenv("SCHEMA_VALIDATION_URL"),
		FullValidationURL:   os.Getenv("FULL_VALIDATION_URL"),
		ValidationKeyName:   getEnv("VALIDATION_KEY_NAME", "Ocp-Apim-Subscription-Key"),
		ValidationKeyValue:  os.Getenv("VALIDATION_KEY_VALUE"),

		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreRegion:    getEnv("OBJECT_STORE_REGION", "us-east-1"),
		ObjectStoreAccessKey: os.Getenv("OBJECT_STORE_ACCESS_KEY"),
		ObjectStoreSecretKey: os.Getenv("OBJECT_STORE_SECRET_KEY"),
		SourceContainer:      getEnv("OBJECT_STORE_SOURCE_CONTAINER", "source"),
		CleanContainer:       getEnv("OBJECT_STORE_CLEAN_CONTAINER", "clean"),
		LakeContainer:        getEnv("OBJECT_STORE_LAKE_CONTAINER", "lake"),

		SolrBaseURL:  os.Getenv("SOLR_BASE_URL"),
		SolrUser:     os.Getenv("SOLR_USER"),
		SolrPassword: os.Getenv("SOLR_PASSWORD"),
		SolrTimeout:  getEnvDuration("SOLR_TIMEOUT", 30*time.Second),

		BlackFlagNotifyURL: os.Getenv("BLACK_FLAG_NOTIFY_URL"),

		ParallelProcesses:         getEnvInt("PARALLEL_PROCESSES", 4),
		SafetyCheckPeriodHours:    getEnvInt("SAFETY_CHECK_PERIOD", 2),
		SafetyCheckThreshold:      getEnvInt("SAFETY_CHECK_THRESHOLD", 20),
		PublisherSafetyPercentage: getEnvInt("PUBLISHER_SAFETY_PERCENTAGE", 50),
		DocumentSafetyPercentage:  getEnvInt("DOCUMENT_SAFETY_PERCENTAGE", 50),
		ServiceLoopSleep:          getEnvDuration("SERVICE_LOOP_SLEEP", 5*time.Minute),
		RetryErrorsAfterLoop:      getEnvInt("RETRY_ERRORS_AFTER_LOOP", 10),
		MaxBlobDelete:             getEnvInt("MAX_BLOB_DELETE", 1000),
		Solr500Sleep:              getEnvDuration("SOLR_500_SLEEP", 30*time.Second),
		MaxBatchLength:            getEnvInt("MAX_BATCH_LENGTH", 500),
		ExplodeElements:           getEnvList("EXPLODE_ELEMENTS", []string{"transaction", "budget"}),

		SleepStart: getEnvDuration("SLEEP_START", 500*time.Millisecond),
		SleepMax:   getEnvDuration("SLEEP_MAX", 30*time.Second),
		RetryLimit: getEnvInt("RETRY_LIMIT", 5),

		AdminListenAddr: getEnv("ADMIN_LISTEN_ADDR", ":9090"),
	}

	cores, err := loadExplodeElementCores(os.Getenv("EXPLODE_ELEMENT_SCHEMA"), cfg.ExplodeElements)
	if err != nil {
		return Config{}, err
	}
	cfg.ExplodeElementCores = cores

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadExplodeElementCores resolves the explode-element-to-core mapping
// Solrize and Cleanup both need. EXPLODE_ELEMENT_SCHEMA, when set, names
// a YAML file pairing each exploded element with the Search Index core
// it's published to, for deployments where the core isn't simply named
// after the element (e.g. "transaction" -> "transactions"); unset,
// every element is its own core name.
func loadExplodeElementCores(path string, elements []string) (map[string]string, error) {
	cores := make(map[string]string, len(elements))
	for _, e := range elements {
		cores[e] = e
	}
	if path == "" {
		return cores, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read explode element schema %s: %w", path, err)
	}
	var schema map[string]string
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse explode element schema %s: %w", path, err)
	}
	for element, core := range schema {
		cores[element] = core
	}
	return cores, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"BDS_DATASET_INDEX_URL":      c.BDSDatasetIndexURL,
		"BDS_REPORTING_ORG_INDEX_URL": c.BDSReportingOrgIndexURL,
	}
	var missing []string
	for name, val := range required {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DSN builds the Postgres connection string pgx expects.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode)
}

func getEnv(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(name string, fallback int) int {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(name string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(name string, fallback []string) []string {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
