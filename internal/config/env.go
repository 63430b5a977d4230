package config

// envSpec maps one environment variable onto a config key.
type envSpec struct {
	Name string
	Path string
}

var envSuffixes = []struct {
	suffix string
	path   string
}{
	{"HOST", "server.host"},
	{"PORT", "server.port"},
	{"READ_TIMEOUT", "server.read_timeout"},
	{"WRITE_TIMEOUT", "server.write_timeout"},
	{"IDLE_TIMEOUT", "server.idle_timeout"},
	{"SHUTDOWN_TIMEOUT", "server.shutdown_timeout"},
	{"LOG_LEVEL", "logging.level"},
	{"LOG_PROFILE", "logging.profile"},
	{"HEALTH_ENABLED", "health.enabled"},
	{"ALLOWED_BASE_DIR", "downloads.allowed_base_dir"},
	{"DEFAULT_DOWNLOAD_DIR", "downloads.default_dir"},
	{"HOST_DOWNLOAD_DIR", "downloads.host_dir"},
	{"ALLOWED_HOSTS", "downloads.allowed_hosts"},
	{"YTDLP_BINARY", "ytdlp.binary"},
	{"PROBE_TIMEOUT", "ytdlp.probe_timeout"},
	{"PROBE_RATE_LIMIT", "ytdlp.probe_rate_limit"},
	{"MERGE_FORMAT", "ytdlp.merge_format"},
	{"CANCEL_GRACE", "ytdlp.cancel_grace"},
	{"SUBSCRIBER_BUFFER", "jobs.subscriber_buffer"},
	{"SAMPLE_BUFFER", "jobs.sample_buffer"},
	{"S3_BUCKET", "publish.s3.bucket"},
	{"S3_PREFIX", "publish.s3.prefix"},
	{"S3_REGION", "publish.s3.region"},
	{"S3_ENDPOINT", "publish.s3.endpoint"},
	{"S3_PROFILE", "publish.s3.profile"},
	{"S3_FORCE_PATH_STYLE", "publish.s3.force_path_style"},
}

// getEnvSpecs returns the env var table for the current identity.
// Callers must hold configMu.
func getEnvSpecs() []envSpec {
	if appIdentity == nil || appIdentity.EnvPrefix == "" {
		return []envSpec{}
	}
	specs := make([]envSpec, 0, len(envSuffixes))
	for _, e := range envSuffixes {
		specs = append(specs, envSpec{Name: appIdentity.EnvPrefix + "_" + e.suffix, Path: e.path})
	}
	return specs
}
