package zhmc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zhmc.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
hmc_url = "https://hmc.example.com:6794"
userid = "ensadmin"
password = "password1"
skip_cert_verify = true
timeout_seconds = 30
name_cache_ttl_seconds = 120
log_level = "debug"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://hmc.example.com:6794", cfg.HMCURL)
	assert.Equal(t, "ensadmin", cfg.Userid)
	assert.True(t, cfg.SkipCertVerify)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
	assert.Equal(t, 120, cfg.NameCacheTTLSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"missing hmc_url": `
userid = "u"
password = "p"
`,
		"invalid url": `
hmc_url = "not a url"
userid = "u"
password = "p"
`,
		"missing credentials": `
hmc_url = "https://hmc.example.com"
`,
		"bad log level": `
hmc_url = "https://hmc.example.com"
userid = "u"
password = "p"
log_level = "loud"
`,
		"negative timeout": `
hmc_url = "https://hmc.example.com"
userid = "u"
password = "p"
timeout_seconds = -1
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigRejectsMalformedTOML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `hmc_url = [unclosed`))
	require.Error(t, err)
}

func TestConfigNewClient(t *testing.T) {
	srv := newTestServer(t)
	path := writeConfig(t, `
hmc_url = "`+srv.URL()+`"
userid = "`+testUserid+`"
password = "`+testPassword+`"
name_cache_ttl_seconds = 60
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	client, err := cfg.NewClient()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, client.nameCacheTTL)
	assert.Equal(t, srv.URL(), client.Session().BaseURL())

	// zero TTL keeps the library default instead of disabling caching
	cfg.NameCacheTTLSeconds = 0
	client, err = cfg.NewClient()
	require.NoError(t, err)
	assert.Equal(t, defaultNameCacheTTL, client.nameCacheTTL)
}
