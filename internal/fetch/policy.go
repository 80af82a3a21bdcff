package fetch

import "time"

// DefaultUserAgent identifies the harvester to upstream sites.
const DefaultUserAgent = "crag-crawler/1.0 (+https://github.com/JakeFAU/crag-crawler)"

// Policy controls how one source is fetched.
type Policy struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	Timeout       time.Duration `mapstructure:"timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots *bool         `mapstructure:"respect_robots"`
}

// DefaultPolicy returns conservative settings for public sites.
func DefaultPolicy() Policy {
	respect := true
	return Policy{
		Concurrency:   2,
		MinDelay:      time.Second,
		MaxAttempts:   3,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    8 * time.Second,
		Timeout:       20 * time.Second,
		UserAgent:     DefaultUserAgent,
		RespectRobots: &respect,
	}
}

// WithDefaults fills every unset field of p from base.
func (p Policy) WithDefaults(base Policy) Policy {
	if p.Concurrency <= 0 {
		p.Concurrency = base.Concurrency
	}
	if p.MinDelay <= 0 {
		p.MinDelay = base.MinDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = base.BackoffBase
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = base.BackoffMax
	}
	if p.Timeout <= 0 {
		p.Timeout = base.Timeout
	}
	if p.UserAgent == "" {
		p.UserAgent = base.UserAgent
	}
	if p.RespectRobots == nil && base.RespectRobots != nil {
		v := *base.RespectRobots
		p.RespectRobots = &v
	}
	return p
}

// ObeyRobots reports whether robots.txt is honoured. Unset means yes.
func (p Policy) ObeyRobots() bool {
	return p.RespectRobots == nil || *p.RespectRobots
}
