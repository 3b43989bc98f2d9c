package transcode

type Config struct {
	LogTailSize    int   `yaml:"log_tail_size" env:"TRANSCODE_LOG_TAIL_SIZE" env-default:"5"`
	QueueSize      int   `yaml:"queue_size" env:"TRANSCODE_QUEUE_SIZE" env-default:"32"`
	AccurateTrim   bool  `yaml:"accurate_trim" env:"TRANSCODE_ACCURATE_TRIM" env-default:"false"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"TRANSCODE_MAX_UPLOAD_BYTES" env-default:"536870912"`

	// MaxFinishedJobs bounds how many finished jobs (and their source and
	// output data) are retained. The oldest are evicted first; zero disables
	// eviction.
	MaxFinishedJobs int `yaml:"max_finished_jobs" env:"TRANSCODE_MAX_FINISHED_JOBS" env-default:"20"`
}
