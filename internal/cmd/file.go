package cmd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration of the Give node.  It contains
// the settings that are not required on the command line.
type fileConfig struct {
	ListenAddress string   `yaml:"listen_address"`
	DNSUpstream   string   `yaml:"dns_upstream"`
	DNSBootstrap  []string `yaml:"dns_bootstrap"`
	ForwardProxy  string   `yaml:"forward_proxy"`
	ForwardRules  []string `yaml:"forward_rules"`
	BlockRules    []string `yaml:"block_rules"`
	BandwidthRate float64  `yaml:"bandwidth_rate"`
	AcceptRate    float64  `yaml:"accept_rate"`
}

// readFileConfig reads and decodes the YAML file at path.  Unknown fields are
// an error.
func readFileConfig(path string) (fc *fileConfig, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cmd: opening config: %w", err)
	}
	defer func() { _ = f.Close() }()

	fc = &fileConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err = dec.Decode(fc); err != nil {
		return nil, fmt.Errorf("cmd: decoding config %s: %w", path, err)
	}

	return fc, nil
}

// applyFileConfig fills the options that were not set on the command line
// with the values from fc.
func applyFileConfig(o *Options, fc *fileConfig) {
	if o.ListenAddress == "" {
		o.ListenAddress = fc.ListenAddress
	}
	if o.DNSUpstream == "" {
		o.DNSUpstream = fc.DNSUpstream
	}
	if len(o.DNSBootstrap) == 0 {
		o.DNSBootstrap = fc.DNSBootstrap
	}
	if o.ForwardProxy == "" {
		o.ForwardProxy = fc.ForwardProxy
	}
	if len(o.ForwardRules) == 0 {
		o.ForwardRules = fc.ForwardRules
	}
	if len(o.BlockRules) == 0 {
		o.BlockRules = fc.BlockRules
	}
	if o.BandwidthRate == 0 {
		o.BandwidthRate = fc.BandwidthRate
	}
	if o.AcceptRate == 0 {
		o.AcceptRate = fc.AcceptRate
	}
}
