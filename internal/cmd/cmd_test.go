package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getlantern/give/internal/forward"
	"github.com/getlantern/give/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	options, err := parseOptions([]string{
		"--block-rule", "*.blocked.test",
		"8080", "8443", "9443", "/etc/give/keystore.pem", "s3cr3t",
	})
	require.NoError(t, err)

	assert.Equal(t, 8080, options.Args.HTTPPort)
	assert.Equal(t, 8443, options.Args.HTTPSPort)
	assert.Equal(t, 9443, options.Args.UDTPort)
	assert.Equal(t, "/etc/give/keystore.pem", options.Args.KeyStorePath)
	assert.Equal(t, "s3cr3t", options.Args.AuthToken)
	assert.Equal(t, []string{"*.blocked.test"}, options.BlockRules)
}

func TestParseOptions_invalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{{
		name: "non_numeric_http_port",
		args: []string{"http", "8443", "9443", "keystore.pem", "s3cr3t"},
	}, {
		name: "non_numeric_udt_port",
		args: []string{"8080", "8443", "udt", "keystore.pem", "s3cr3t"},
	}, {
		name: "missing_token",
		args: []string{"8080", "8443", "9443", "keystore.pem"},
	}, {
		name: "empty",
		args: nil,
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseOptions(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestParseOptions_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "give.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: 127.0.0.1
forward_rules:
  - "*.example.org"
block_rules:
  - "*.file.test"
bandwidth_rate: 1024
accept_rate: 50
`), 0o600))

	options, err := parseOptions([]string{
		"--config", path,
		"--block-rule", "*.flag.test",
		"8080", "8443", "9443", "keystore.pem", "s3cr3t",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", options.ListenAddress)
	assert.Equal(t, []string{"*.example.org"}, options.ForwardRules)
	assert.Equal(t, []string{"*.flag.test"}, options.BlockRules)
	assert.Equal(t, 1024.0, options.BandwidthRate)
	assert.Equal(t, 50.0, options.AcceptRate)
}

func TestParseOptions_badConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "give.yaml")
	require.NoError(t, os.WriteFile(path, []byte("unknown_field: 1\n"), 0o600))

	_, err := parseOptions([]string{"--config", path, "8080", "8443", "9443", "keystore.pem", "s3cr3t"})
	assert.Error(t, err)
}

func TestOptions_String(t *testing.T) {
	options := &Options{Args: PositionalArgs{AuthToken: "s3cr3t"}}

	assert.NotContains(t, options.String(), "s3cr3t")
	assert.Equal(t, "s3cr3t", options.Args.AuthToken)

	getOptions := &GetOptions{AuthToken: "s3cr3t"}
	assert.NotContains(t, getOptions.String(), "s3cr3t")
}

func TestToGiveConfig(t *testing.T) {
	ks := testutil.NewKeystore(t)

	fwd, err := forward.New(toForwardConfig(&Options{}, nil))
	require.NoError(t, err)

	options := &Options{
		Args: PositionalArgs{
			HTTPPort:     8080,
			HTTPSPort:    8443,
			UDTPort:      9443,
			KeyStorePath: ks.WriteFile(t),
			AuthToken:    "s3cr3t",
		},
		ListenAddress: "127.0.0.1",
	}

	cfg, err := toGiveConfig(options, fwd)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.ListenIP.String())
	assert.Equal(t, 9443, cfg.UDTPort)
	assert.Len(t, cfg.TLSConfig.Certificates, 1)

	options.Args.KeyStorePath = filepath.Join(t.TempDir(), "missing.pem")
	_, err = toGiveConfig(options, fwd)
	assert.Error(t, err)

	options.ListenAddress = "not-an-ip"
	_, err = toGiveConfig(options, fwd)
	assert.Error(t, err)
}

func TestToForwardConfig(t *testing.T) {
	cfg := toForwardConfig(&Options{BlockRules: []string{"a"}}, nil)

	assert.Nil(t, cfg.Resolver)
	assert.Equal(t, []string{"a"}, cfg.BlockRules)
	assert.Nil(t, toResolverConfig(&Options{}))
	assert.Equal(t, "1.1.1.1:53", toResolverConfig(&Options{DNSUpstream: "1.1.1.1:53"}).Upstream)
}

func TestToGetConfig(t *testing.T) {
	ks := testutil.NewKeystore(t)

	cfg, err := toGetConfig(&GetOptions{
		ListenAddress: "127.0.0.1:8080",
		GiveAddress:   "give.example:8443",
		Transport:     "udt",
		AuthToken:     "s3cr3t",
		CAPath:        ks.WriteFile(t),
	})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.ListenAddr.Port)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "udt", cfg.Transport)

	_, err = toGetConfig(&GetOptions{ListenAddress: "bad address"})
	assert.Error(t, err)
}
