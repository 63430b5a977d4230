// Package publish copies finished downloads to object storage.
package publish

import "strings"

// DefaultAWSRegion is the fallback region for AWS S3 when none is resolved.
const DefaultAWSRegion = "us-east-1"

// S3Config configures an S3Publisher.
//
// Credentials follow the AWS SDK v2 default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi)
// set Endpoint and usually ForcePathStyle.
type S3Config struct {
	// Bucket receives uploads (required).
	Bucket string `mapstructure:"bucket"`

	// Prefix is prepended to the object key. A trailing slash is implied.
	Prefix string `mapstructure:"prefix"`

	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Profile  string `mapstructure:"profile"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	ForcePathStyle bool `mapstructure:"force_path_style"`
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// Validate checks that required configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}

	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}

	if strings.Contains(c.Prefix, "..") {
		return &ConfigError{Field: "Prefix", Message: "prefix must not contain '..'"}
	}

	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 publish config: " + e.Field + ": " + e.Message
}

// resolveRegion keeps an SDK-resolved region, defaults AWS S3 to us-east-1
// and leaves S3-compatible endpoints without one.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
