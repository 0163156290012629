package settings

import (
	"bufio"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
)

const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"

	CacheBackendFS    = "fs"
	CacheBackendMinIO = "minio"
)

var Settings *AppSettings

func NewSettings() *AppSettings {
	settings := AppSettings{
		Port:           getEnvOrDefault("VERIFYCI_PORT", ":8080"),
		DatabaseDriver: getEnvOrDefault("VERIFYCI_DB_DRIVER", DriverSQLite),
		DatabaseURL:    getEnvOrDefault("VERIFYCI_DB_PATH", "file:.///verifyci.sqlite"),
		Repository:     getEnvOrDefault("VERIFYCI_REPOSITORY", ""),
		PipelinePath:   getEnvOrDefault("VERIFYCI_PIPELINE_PATH", "pipeline.yml"),
		Timezone:       getEnvOrDefault("VERIFYCI_TIMEZONE", "UTC"),
		WorkspaceRoot:  getEnvOrDefault("VERIFYCI_WORKSPACE_ROOT", os.TempDir()),
		CacheBackend:   getEnvOrDefault("VERIFYCI_CACHE_BACKEND", CacheBackendFS),
		CacheDir:       getEnvOrDefault("VERIFYCI_CACHE_DIR", ".verifyci-cache"),
		MinIOEndpoint:  getEnvOrDefault("VERIFYCI_MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: getEnvOrDefault("VERIFYCI_MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnvOrDefault("VERIFYCI_MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnvOrDefault("VERIFYCI_MINIO_BUCKET", "verifyci-cache"),
		MinIORegion:    getEnvOrDefault("VERIFYCI_MINIO_REGION", ""),
		MinIOUseSSL:    getEnvOrDefault("VERIFYCI_MINIO_USE_SSL", "false") == "true",
		AgentHost:      getEnvOrDefault("VERIFYCI_AGENT_HOST", ""),
		AgentUser:      getEnvOrDefault("VERIFYCI_AGENT_USER", ""),
		AgentKeyPath:   getEnvOrDefault("VERIFYCI_AGENT_KEY_PATH", ""),
		AgentWorkspace: getEnvOrDefault("VERIFYCI_AGENT_WORKSPACE", "/tmp/verifyci"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	Port           string
	DatabaseDriver string
	DatabaseURL    string
	Repository     string
	PipelinePath   string
	WorkspaceRoot  string
	Timezone       string

	CacheBackend   string
	CacheDir       string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIORegion    string
	MinIOUseSSL    bool

	AgentHost      string
	AgentUser      string
	AgentKeyPath   string
	AgentWorkspace string
}

// UsesAgent reports whether runs execute on a remote SSH agent instead of
// the local host.
func (as *AppSettings) UsesAgent() bool {
	return as.AgentHost != ""
}

// MigrationDialect is the goose dialect matching the configured driver.
func (as *AppSettings) MigrationDialect() string {
	if as.DatabaseDriver == DriverPgx {
		return "postgres"
	}
	return "sqlite"
}

func (as *AppSettings) DatabaseDSN(readonly bool) string {
	if as.DatabaseDriver == DriverPgx {
		return as.DatabaseURL
	}
	return as.SQLiteDbString(readonly)
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "foreign_keys(1)")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}

	return as.DatabaseURL + "?" + params.Encode()
}

func (as *AppSettings) String() string {
	return fmt.Sprintf(
		"driver=%s cache=%s workspace=%s agent=%t",
		as.DatabaseDriver, as.CacheBackend, as.WorkspaceRoot, as.UsesAgent(),
	)
}

func ReadDotenv(path string) {
	re := regexp.MustCompile(`^[^0-9][A-Z0-9_]+=.+$`)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Fatal("err opening dotenv: ", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] != '#' && re.Match(line) {
			name, value, _ := strings.Cut(string(line), "=")
			name = strings.TrimSpace(name)
			value = strings.TrimSpace(value)
			value = strings.Trim(value, `"`)
			os.Setenv(name, value)
		}
	}
}
