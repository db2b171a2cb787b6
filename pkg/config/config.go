// Package config collects the secure-processing limits and outbound
// action parameters into one record, wired to cobra/pflag flags:
// nested sub-structs, a NewDefaultConfig constructor, and one flag
// registration helper per command family.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"xmlsecflow/pkg/inbound"
	"xmlsecflow/pkg/outbound"
)

// Config is the top-level application configuration: the general
// settings every subcommand shares, plus nested configuration for each
// side of the pipeline.
type Config struct {
	LogLevel string

	Limits   LimitsConfig
	Resolver ResolverConfig
	Sign     SignConfig
	Encrypt  EncryptConfig
	KMS      KMSConfig
	Server   ServerConfig
}

// LimitsConfig mirrors inbound.Limits with flag-friendly field names.
type LimitsConfig struct {
	MaxReferencesPerManifest  int
	MaxTransformsPerReference int
	AllowManifests            bool
	AllowExternalReferences   bool
}

// ToLimits converts the flag-bound fields into an inbound.Limits value.
func (c LimitsConfig) ToLimits() inbound.Limits {
	return inbound.Limits{
		MaxReferencesPerManifest:  c.MaxReferencesPerManifest,
		MaxTransformsPerReference: c.MaxTransformsPerReference,
		AllowManifests:            c.AllowManifests,
		AllowExternalReferences:   c.AllowExternalReferences,
	}
}

// ResolverConfig configures the external resource resolver's rate
// throttle, covering the one place this engine performs I/O (external
// reference fetches).
type ResolverConfig struct {
	AllowHTTP          bool
	AllowFile          bool
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Limiter builds a rate.Limit from the configured per-second rate, for
// wiring into resolver.NewRateThrottle.
func (c ResolverConfig) Limiter() rate.Limit {
	return rate.Limit(c.RateLimitPerSecond)
}

// SignConfig holds the SIGN action's parameters (the outbound
// parameter table in the external interfaces spec), defaulting to the
// sha1 digest and exclusive c14n; an empty signature algorithm is
// derived from the signing key's kind.
type SignConfig struct {
	SignatureAlgorithmURI        string
	DigestAlgorithmURI           string
	CanonicalizationAlgorithmURI string
	KeyIdentifierType            string // "issuer-serial", "subject-name", "key-name"
}

// KeyIdentifier converts the flag-bound string into an
// outbound.KeyIdentifierType.
func (c SignConfig) KeyIdentifier() outbound.KeyIdentifierType {
	switch c.KeyIdentifierType {
	case "subject-name":
		return outbound.KeyIdentifierX509SubjectName
	case "key-name":
		return outbound.KeyIdentifierKeyName
	default:
		return outbound.KeyIdentifierX509IssuerSerial
	}
}

// EncryptConfig holds the ENCRYPT action's parameters.
type EncryptConfig struct {
	KeyTransportURI string
	SymmetricURI    string
}

// KMSConfig selects and configures a cloud KMS-backed wrapping-token
// resolver for EncryptedKey unwrap, an alternative to local key
// material (pkg/enckey/kmsresolver).
type KMSConfig struct {
	Provider string // "", "aws", "gcp"

	AWSRegion  string
	AWSProfile string
	AWSKeyIDs  map[string]string

	GCPProject         string
	GCPLocation        string
	GCPKeyRing         string
	GCPCredentialsFile string
	GCPKeyNames        map[string]string
}

// ServerConfig configures the `serve` subcommand's HTTP listener.
type ServerConfig struct {
	Port            int
	MetricsPath     string
	HealthCheckPath string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns a Config populated with the defaults the
// external interfaces table specifies, plus conservative
// secure-processing limits.
func NewDefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Limits: LimitsConfig{
			MaxReferencesPerManifest:  10,
			MaxTransformsPerReference: 5,
			AllowManifests:            false,
			AllowExternalReferences:   false,
		},
		Resolver: ResolverConfig{
			AllowHTTP:          false,
			AllowFile:          false,
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
		},
		Sign: SignConfig{
			SignatureAlgorithmURI:        "", // empty = derive from key kind
			DigestAlgorithmURI:           "http://www.w3.org/2000/09/xmldsig#sha1",
			CanonicalizationAlgorithmURI: "http://www.w3.org/2001/10/xml-exc-c14n#",
			KeyIdentifierType:            "issuer-serial",
		},
		Encrypt: EncryptConfig{
			KeyTransportURI: "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p",
			SymmetricURI:    "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
		},
		KMS: KMSConfig{
			Provider: "",
		},
		Server: ServerConfig{
			Port:            8080,
			MetricsPath:     "/metrics",
			HealthCheckPath: "/healthz",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

// AddFlagsToCommand registers the global flags every subcommand shares:
// log level, secure-processing limits, and the resolver's external
// fetch policy.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error, fatal)")
	c.addLimitFlags(fs)
	c.addResolverFlags(fs)
	c.addKMSFlags(fs)
}

func (c *Config) addLimitFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Limits.MaxReferencesPerManifest, "max-references", c.Limits.MaxReferencesPerManifest, "Maximum references per signature manifest")
	fs.IntVar(&c.Limits.MaxTransformsPerReference, "max-transforms", c.Limits.MaxTransformsPerReference, "Maximum transforms per reference")
	fs.BoolVar(&c.Limits.AllowManifests, "allow-manifests", c.Limits.AllowManifests, "Allow references whose type is the Manifest URI")
	fs.BoolVar(&c.Limits.AllowExternalReferences, "allow-external-references", c.Limits.AllowExternalReferences, "Allow fetching references outside the document")
}

func (c *Config) addResolverFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&c.Resolver.AllowHTTP, "allow-http", c.Resolver.AllowHTTP, "Permit http(s):// external reference resolution")
	fs.BoolVar(&c.Resolver.AllowFile, "allow-file", c.Resolver.AllowFile, "Permit file:// external reference resolution")
	fs.Float64Var(&c.Resolver.RateLimitPerSecond, "resolver-rate", c.Resolver.RateLimitPerSecond, "External reference fetches allowed per second")
	fs.IntVar(&c.Resolver.RateLimitBurst, "resolver-burst", c.Resolver.RateLimitBurst, "External reference fetch burst size")
}

func (c *Config) addKMSFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.KMS.Provider, "kms-provider", c.KMS.Provider, "Wrapping-token resolver backend for EncryptedKey unwrap (aws, gcp, or empty for local keys)")
	fs.StringVar(&c.KMS.AWSRegion, "aws-kms-region", c.KMS.AWSRegion, "AWS region for KMS-backed key unwrap")
	fs.StringVar(&c.KMS.AWSProfile, "aws-kms-profile", c.KMS.AWSProfile, "AWS shared-config profile for the KMS client")
	fs.StringVar(&c.KMS.GCPProject, "gcp-kms-project", c.KMS.GCPProject, "GCP project for KMS-backed key unwrap")
	fs.StringVar(&c.KMS.GCPLocation, "gcp-kms-location", c.KMS.GCPLocation, "GCP KMS location")
	fs.StringVar(&c.KMS.GCPKeyRing, "gcp-kms-key-ring", c.KMS.GCPKeyRing, "GCP KMS key ring")
	fs.StringVar(&c.KMS.GCPCredentialsFile, "gcp-kms-credentials-file", c.KMS.GCPCredentialsFile, "GCP credentials file for the KMS client")
	fs.StringToStringVar(&c.KMS.AWSKeyIDs, "aws-kms-key", c.KMS.AWSKeyIDs, "KeyName-to-AWS-KMS-key-ID mapping (repeatable, name=keyID)")
	fs.StringToStringVar(&c.KMS.GCPKeyNames, "gcp-kms-key", c.KMS.GCPKeyNames, "KeyName-to-GCP-CryptoKey mapping (repeatable, name=cryptoKey)")
}

// AddSignFlags registers sign-specific flags, matching the SIGN action's
// parameter table.
func (c *Config) AddSignFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Sign.SignatureAlgorithmURI, "signature-algorithm", c.Sign.SignatureAlgorithmURI, "Signature algorithm URI (empty derives from the signing key kind)")
	cmd.Flags().StringVar(&c.Sign.DigestAlgorithmURI, "digest-algorithm", c.Sign.DigestAlgorithmURI, "Reference digest algorithm URI")
	cmd.Flags().StringVar(&c.Sign.CanonicalizationAlgorithmURI, "canonicalization-algorithm", c.Sign.CanonicalizationAlgorithmURI, "Canonicalization algorithm URI")
	cmd.Flags().StringVar(&c.Sign.KeyIdentifierType, "key-identifier", c.Sign.KeyIdentifierType, "KeyInfo identifier type (issuer-serial, subject-name, key-name)")
}

// AddEncryptFlags registers encrypt-specific flags, matching the
// ENCRYPT action's parameter table.
func (c *Config) AddEncryptFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Encrypt.KeyTransportURI, "key-transport-algorithm", c.Encrypt.KeyTransportURI, "Key-transport algorithm URI wrapping the session key")
	cmd.Flags().StringVar(&c.Encrypt.SymmetricURI, "symmetric-algorithm", c.Encrypt.SymmetricURI, "Symmetric algorithm URI encrypting element content")
}

// AddServerFlags registers `serve`-specific flags.
func (c *Config) AddServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&c.Server.Port, "port", c.Server.Port, "Server listening port")
	cmd.Flags().StringVar(&c.Server.MetricsPath, "metrics-path", c.Server.MetricsPath, "Prometheus metrics endpoint path")
	cmd.Flags().StringVar(&c.Server.HealthCheckPath, "health-path", c.Server.HealthCheckPath, "Health check endpoint path")
	cmd.Flags().DurationVar(&c.Server.ReadTimeout, "read-timeout", c.Server.ReadTimeout, "HTTP server read timeout")
	cmd.Flags().DurationVar(&c.Server.WriteTimeout, "write-timeout", c.Server.WriteTimeout, "HTTP server write timeout")
	cmd.Flags().DurationVar(&c.Server.ShutdownTimeout, "shutdown-timeout", c.Server.ShutdownTimeout, "HTTP server shutdown timeout")
}
