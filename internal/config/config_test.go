package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/token_ledger/internal/token"
)

var (
	deployerAddr = token.FormatAccount(util.Uint160{1})
	sinkAddr     = token.FormatAccount(util.Uint160{2})
	pairAddr     = token.FormatAccount(util.Uint160{3})
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "ledger.yaml", `
server:
  port: 9090
  read_timeout: 5s
logging:
  level: debug
  format: text
auth:
  public_key_path: /etc/ledger/jwt.pub
token:
  deployer: `+deployerAddr+`
  fee_rate_bps: 250
  fee_address: `+sinkAddr+`
  pairs: `+pairAddr+`
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 250, cfg.Token.FeeRateBps)
	assert.Equal(t, "PIF", cfg.Token.Symbol)

	deployer, sink, pairs, err := cfg.Token.Genesis()
	require.NoError(t, err)
	assert.Equal(t, util.Uint160{1}, deployer)
	assert.Equal(t, util.Uint160{2}, sink)
	assert.Equal(t, []util.Uint160{{3}}, pairs)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "ledger.yaml", `
server:
  port: 9090
auth:
  public_key: inline
token:
  deployer: `+deployerAddr+`
`)
	t.Setenv("LEDGER_SERVER_PORT", "7070")
	t.Setenv("LEDGER_TOKEN_FEE_RATE_BPS", "120")
	t.Setenv("LEDGER_DATABASE_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_AUDIT_SCHEDULE", "@every 30s")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "token_ledger.events", cfg.Redis.Channel)
	assert.Equal(t, "@every 30s", cfg.Audit.Schedule)
	assert.Equal(t, 120, cfg.Token.FeeRateBps)
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.Database.DSN)
}

func TestDotEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "LEDGER_AUTH_PUBLIC_KEY=inline\nLEDGER_TOKEN_DEPLOYER="+deployerAddr+"\nLEDGER_LOG_LEVEL=warn\n")
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_AUTH_PUBLIC_KEY")
		os.Unsetenv("LEDGER_TOKEN_DEPLOYER")
		os.Unsetenv("LEDGER_LOG_LEVEL")
	})

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, deployerAddr, cfg.Token.Deployer)
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	t.Setenv("LEDGER_AUTH_PUBLIC_KEY", "inline")
	t.Setenv("LEDGER_TOKEN_DEPLOYER", deployerAddr)

	_, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.PublicKey = "inline"
		cfg.Token.Deployer = deployerAddr
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no auth key", func(c *Config) { c.Auth.PublicKey = "" }, "auth.public_key"},
		{"fee rate too high", func(c *Config) { c.Token.FeeRateBps = 301 }, "token.fee_rate_bps"},
		{"fee rate zero", func(c *Config) { c.Token.FeeRateBps = 0 }, "token.fee_rate_bps"},
		{"no deployer", func(c *Config) { c.Token.Deployer = "" }, "token.deployer"},
		{"bad deployer", func(c *Config) { c.Token.Deployer = "not-an-address" }, "token.deployer"},
		{"pairs without sink", func(c *Config) { c.Token.Pairs = pairAddr }, "token.fee_address"},
		{"rate limit", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit"},
		{"redis queue", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.QueueLength = 0 }, "redis.queue_length"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPublicKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	parsed, err := AuthConfig{PublicKey: pemText}.LoadPublicKey()
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, parsed.N)

	path := writeFile(t, "jwt.pub", pemText)
	parsed, err = AuthConfig{PublicKeyPath: path}.LoadPublicKey()
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.E, parsed.E)

	_, err = AuthConfig{PublicKey: "garbage"}.LoadPublicKey()
	assert.Error(t, err)
}

func TestServerHelpers(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080, AllowedOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, "127.0.0.1:8080", s.Addr())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.Origins())
}
