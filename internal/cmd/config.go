package cmd

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/getlantern/give/internal/forward"
	"github.com/getlantern/give/internal/getmode"
	"github.com/getlantern/give/internal/give"
	"github.com/getlantern/give/internal/keystore"
	"github.com/getlantern/give/internal/resolver"
)

// toResolverConfig converts command-line arguments to [*resolver.Config].  It
// returns nil if no DNS upstream is configured.
func toResolverConfig(options *Options) (cfg *resolver.Config) {
	if options.DNSUpstream == "" {
		return nil
	}

	return &resolver.Config{
		Upstream:  options.DNSUpstream,
		Bootstrap: options.DNSBootstrap,
	}
}

// toForwardConfig converts command-line arguments to [*forward.Config].  res
// may be nil.
func toForwardConfig(options *Options, res *resolver.Resolver) (cfg *forward.Config) {
	cfg = &forward.Config{
		ForwardProxy:  options.ForwardProxy,
		ForwardRules:  options.ForwardRules,
		BlockRules:    options.BlockRules,
		BandwidthRate: options.BandwidthRate,
	}

	// Avoid a non-nil interface holding a nil pointer.
	if res != nil {
		cfg.Resolver = res
	}

	return cfg
}

// toGiveConfig converts command-line arguments to [*give.Config].  It loads
// the keystore, so a bad keystore fails here, before any listener is bound.
func toGiveConfig(options *Options, fwd *forward.Forwarder) (cfg *give.Config, err error) {
	var ip net.IP
	if options.ListenAddress != "" {
		ip = net.ParseIP(options.ListenAddress)
		if ip == nil {
			return nil, fmt.Errorf("cmd: failed to parse address %s", options.ListenAddress)
		}
	}

	cert, err := keystore.Load(options.Args.KeyStorePath)
	if err != nil {
		return nil, fmt.Errorf("cmd: %w", err)
	}

	return &give.Config{
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		Forwarder:  fwd,
		ListenIP:   ip,
		AuthToken:  options.Args.AuthToken,
		HTTPPort:   options.Args.HTTPPort,
		HTTPSPort:  options.Args.HTTPSPort,
		UDTPort:    options.Args.UDTPort,
		AcceptRate: options.AcceptRate,
	}, nil
}

// toGetConfig converts command-line arguments to [*getmode.Config].
func toGetConfig(options *GetOptions) (cfg *getmode.Config, err error) {
	addr, err := net.ResolveTCPAddr("tcp", options.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("cmd: failed to parse listen address %s: %w", options.ListenAddress, err)
	}

	cfg = &getmode.Config{
		ListenAddr: addr,
		GiveAddr:   options.GiveAddress,
		ServerName: options.ServerName,
		AuthToken:  options.AuthToken,
		Transport:  options.Transport,
		AcceptRate: options.AcceptRate,
	}

	if options.CAPath != "" {
		cfg.RootCAs, err = keystore.LoadPool(options.CAPath)
		if err != nil {
			return nil, fmt.Errorf("cmd: %w", err)
		}
	}

	return cfg, nil
}
