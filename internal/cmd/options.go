package cmd

import "encoding/json"

// redacted replaces secrets in the printed configuration.
const redacted = "********"

// PositionalArgs are the required arguments of the Give node in the order
// they must be specified.
type PositionalArgs struct {
	// HTTPPort is the port of the plain HTTP endpoint.
	HTTPPort int `positional-arg-name:"http-port" description:"Port of the plain HTTP endpoint."`

	// HTTPSPort is the port of the TLS endpoint.
	HTTPSPort int `positional-arg-name:"https-port" description:"Port of the TLS endpoint."`

	// UDTPort is the port of the UDT endpoint.
	UDTPort int `positional-arg-name:"udt-port" description:"Port of the UDT endpoint."`

	// KeyStorePath is the path to the PEM file with the certificate chain and
	// the private key.
	KeyStorePath string `positional-arg-name:"keystore" description:"Path to the PEM file with the certificate chain and the private key."`

	// AuthToken is the token Get nodes must present.
	AuthToken string `positional-arg-name:"auth-token" description:"Token Get nodes must present in the X-Lantern-Auth-Token header."`
}

// Options represents console arguments of the Give node.
type Options struct {
	// Args are the required positional arguments.
	Args PositionalArgs `positional-args:"yes" required:"yes"`

	// ListenAddress is the IP address all the endpoints listen to.  If not
	// set, all local addresses are used.
	ListenAddress string `long:"address" description:"IP address the endpoints will be listening to. If not set, listen on all addresses."`

	// ConfigPath is the optional path to the YAML file with the settings
	// below.  Command-line flags take precedence over the file.
	ConfigPath string `long:"config" description:"Path to the YAML configuration file."`

	// DNSUpstream is the address of the DNS server used for resolving the
	// hosts requests are forwarded to.
	DNSUpstream string `long:"dns-upstream" description:"DNS upstream used to resolve remote hosts, e.g. https://dns.google/dns-query. If not set, the system resolver is used."`

	// DNSBootstrap is a list of plain DNS servers used for resolving the
	// DNSUpstream hostname.
	DNSBootstrap []string `long:"dns-bootstrap" description:"Plain DNS server used to resolve the DNS upstream hostname. Can be specified multiple times."`

	// ForwardProxy is the address of a SOCKS/HTTP/HTTPS proxy that the
	// connections will be forwarded to according to ForwardRules.
	ForwardProxy string `long:"forward-proxy" description:"Address of a SOCKS/HTTP/HTTPS proxy that the connections will be forwarded to according to forward-rule."`

	// ForwardRules is a list of wildcards that define what connections will be
	// forwarded to ForwardProxy.  If the list is empty and ForwardProxy is set,
	// all connections will be forwarded.
	ForwardRules []string `long:"forward-rule" description:"Wildcard that defines what connections will be forwarded to forward-proxy. Can be specified multiple times. If no rules are specified, all connections will be forwarded to the proxy."`

	// BlockRules is a list of wildcards that define connections to which hosts
	// will be blocked.
	BlockRules []string `long:"block-rule" description:"Wildcard that defines what domains should be blocked. Can be specified multiple times."`

	// BandwidthRate is a number of bytes per second the connections speed will
	// be limited to.  If not set, there is no limit.
	BandwidthRate float64 `long:"bandwidth-rate" description:"Bytes per second the connections speed will be limited to. If not set, there is no limit." default:"0"`

	// AcceptRate is a number of connections per second each endpoint starts
	// handling.  If not set, there is no limit.
	AcceptRate float64 `long:"accept-rate" description:"Connections per second each endpoint will start handling. If not set, there is no limit." default:"0"`

	// Log settings
	// --

	// Verbose defines whether we should write the DEBUG-level log or not.
	Verbose bool `long:"verbose" description:"Verbose output (optional)" optional:"yes" optional-value:"true"`

	// LogOutput is the optional path to the log file.
	LogOutput string `long:"output" description:"Path to the log file. If not set, write to stdout."`
}

// String implements fmt.Stringer interface for Options.
func (o *Options) String() (s string) {
	c := *o
	c.Args.AuthToken = redacted

	b, _ := json.MarshalIndent(c, "", "    ")
	return string(b)
}

// GetOptions represents console arguments of the Get node.
type GetOptions struct {
	// ListenAddress is the address of the local proxy.
	ListenAddress string `long:"listen" description:"Address of the local proxy." default:"127.0.0.1:8080"`

	// GiveAddress is the address of the Give node's TLS or UDT endpoint.
	GiveAddress string `long:"give" description:"Address of the Give node's TLS or UDT endpoint." required:"yes"`

	// Transport is the transport of the connection to the Give node.
	Transport string `long:"transport" description:"Transport of the connection to the Give node." choice:"tls" choice:"udt" default:"tls"`

	// AuthToken is the token presented to the Give node.
	AuthToken string `long:"token" description:"Auth token presented to the Give node." required:"yes"`

	// CAPath is the optional path to the PEM file with the certificates the
	// Give node is verified with.
	CAPath string `long:"ca" description:"PEM file with the certificates the Give node is verified with. If not set, the system roots are used."`

	// ServerName is the name the Give node's certificate is verified for.
	ServerName string `long:"server-name" description:"Name the Give node's certificate is verified for. If not set, the host of --give is used."`

	// AcceptRate is a number of connections per second the local proxy starts
	// handling.
	AcceptRate float64 `long:"accept-rate" description:"Connections per second the local proxy will start handling. If not set, there is no limit." default:"0"`

	// Verbose defines whether we should write the DEBUG-level log or not.
	Verbose bool `long:"verbose" description:"Verbose output (optional)" optional:"yes" optional-value:"true"`

	// LogOutput is the optional path to the log file.
	LogOutput string `long:"output" description:"Path to the log file. If not set, write to stdout."`
}

// String implements fmt.Stringer interface for GetOptions.
func (o *GetOptions) String() (s string) {
	c := *o
	c.AuthToken = redacted

	b, _ := json.MarshalIndent(c, "", "    ")
	return string(b)
}
