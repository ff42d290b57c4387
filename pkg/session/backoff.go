package session

import (
	"math/rand"
	"sync"
	"time"
)

// BackoffConfig shapes the delay between reconnect attempts.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" default:"1s"`
	Max        time.Duration `yaml:"max" default:"30s"`
	Multiplier float64       `yaml:"multiplier" default:"2"`
	// Jitter is the maximum extra delay as a fraction of the base delay.
	Jitter float64 `yaml:"jitter" default:"0.2"`
}

// backoff calculates exponential reconnect delays with jitter.
type backoff struct {
	mu sync.Mutex

	current  time.Duration
	cfg      BackoffConfig
	attempts int
	rng      *rand.Rand
}

func newBackoff(cfg BackoffConfig) *backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = time.Second
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &backoff{
		current: cfg.Initial,
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next delay and advances the sequence.
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.cfg.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.cfg.Jitter * b.rng.Float64())
	}

	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.cfg.Multiplier), b.cfg.Max)
	return delay
}

// Reset restarts the sequence. Call it after a successful connection.
func (b *backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
