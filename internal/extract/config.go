package extract

import "time"

type Config struct {
	Endpoints          []string `yaml:"endpoints" env:"EXTRACT_ENDPOINTS" env-separator:"," env-default:"https://cobalt.kwiatekmiki.pl,https://cobalt.q1.pm,https://cobalt.synrs.co,https://dl.khub.students.nom.za,https://cobalt.sxy2.site,https://cobalt.154.53.56.152.sslip.io"`
	VideoQuality       string   `yaml:"video_quality" env:"EXTRACT_VIDEO_QUALITY" env-default:"720"`
	AttemptTimeoutSecs int      `yaml:"attempt_timeout_seconds" env:"EXTRACT_ATTEMPT_TIMEOUT_SECONDS" env-default:"15"`
	UserAgent          string   `yaml:"user_agent" env:"EXTRACT_USER_AGENT" env-default:"AnyVid/1.0"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second" env:"EXTRACT_RATE_LIMIT_PER_SECOND" env-default:"2"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"EXTRACT_RATE_LIMIT_BURST" env-default:"5"`
}

func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSecs) * time.Second
}
