package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/pkg/board"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig() *WarrenConfig {
	return &WarrenConfig{
		Version: "1.0",
		Team:    "core",
		Lead:    "lead-1",
		Agents: map[string]Agent{
			"lead-1": {Role: "architect"},
			"impl-1": {Role: "implementer", Image: "warren-agent:latest", Command: []string{"./run.sh"}},
		},
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
team: core
lead: lead-1
agents:
  lead-1:
    role: architect
  impl-1:
    role: implementer
    image: "warren-agent:latest"
    command: ["./run.sh"]
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "core", config.Team)
	assert.Equal(t, "lead-1", config.Lead)
	assert.Len(t, config.Agents, 2)
	assert.Equal(t, "implementer", config.Agents["impl-1"].Role)
	assert.Equal(t, []string{"./run.sh"}, config.Agents["impl-1"].Command)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
team: core
lead: lead-1
agents:
  lead-1:
    role: architect
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ".warren", config.DataDir)
	assert.Equal(t, BackendFile, config.Store.Backend)
	assert.Equal(t, 60*time.Second, config.Monitor.PollDuration())
	assert.Equal(t, 30*time.Second, config.Monitor.ProbeDuration())
}

func TestLoad_MonitorOverrides(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
team: core
lead: lead-1
monitor:
  poll_interval: "2m"
  probe_window: "45s"
  claim_expiry:
    red: 1200
agents:
  lead-1:
    role: architect
`)

	config, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, config.Monitor.PollDuration())
	assert.Equal(t, 45*time.Second, config.Monitor.ProbeDuration())
	assert.Equal(t, 1200, config.Monitor.ClaimExpiry["red"])

	// Lowercase yaml keys resolve to the canonical tier constants.
	assert.Equal(t, map[board.RiskTier]int{board.TierRed: 1200}, config.Monitor.ClaimExpiryOverrides())
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/warren.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: "1.0"
agents:
  - this is invalid
    yaml syntax
`)

	config, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	config := validConfig()
	config.Version = "2.0"

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version: 2.0")
}

func TestValidate_LeadMustBeAgent(t *testing.T) {
	config := validConfig()
	config.Lead = "ghost"

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lead 'ghost' is not a defined agent")
}

func TestValidate_InvalidRole(t *testing.T) {
	config := validConfig()
	config.Agents["impl-1"] = Agent{Role: "wizard"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestValidate_RedisBackendRequiresAddr(t *testing.T) {
	config := validConfig()
	config.Store = &StoreConfig{Backend: BackendRedis}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis_addr is required")

	config.Store.RedisAddr = "localhost:6379"
	assert.NoError(t, config.Validate())
}

func TestValidate_UnknownBackend(t *testing.T) {
	config := validConfig()
	config.Store = &StoreConfig{Backend: "etcd"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store backend")
}

func TestValidate_ClaimExpiry(t *testing.T) {
	config := validConfig()
	config.Monitor = &MonitorConfig{ClaimExpiry: map[string]int{"purple": 100}}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier 'purple'")

	config.Monitor = &MonitorConfig{ClaimExpiry: map[string]int{"red": -5}}
	err = config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestValidate_BadDuration(t *testing.T) {
	config := validConfig()
	config.Monitor = &MonitorConfig{PollInterval: "often"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration 'often'")
}

func TestValidate_CommandRequiresImage(t *testing.T) {
	config := validConfig()
	config.Agents["impl-1"] = Agent{Role: "implementer", Command: []string{"./run.sh"}}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "command requires an image")
}
