package bus

type Option func(*config)

type config struct {
	inboxSize    int
	abortOnError bool
}

func defaultConfig() config {
	return config{inboxSize: 256}
}

// WithInboxSize sets the buffer of the Post inbox.
func WithInboxSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.inboxSize = n
		}
	}
}

// WithAbortOnError stops a dispatch at the first failing handler.
func WithAbortOnError() Option {
	return func(c *config) {
		c.abortOnError = true
	}
}
