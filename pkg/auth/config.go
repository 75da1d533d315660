package auth

import "os"

// Config holds actor resolution settings. When Issuer is empty, the actor
// is taken from ActorHeader as-is and no token verification occurs.
type Config struct {
	Issuer      string `toml:"issuer"`
	ClientID    string `toml:"client_id"`
	ActorHeader string `toml:"actor_header"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Issuer      string
	ClientID    string
	ActorHeader string
}

// Enabled reports whether bearer token verification is configured.
func (c *Config) Enabled() bool {
	return c.Issuer != ""
}

// Finalize applies defaults and environment variable overrides.
func (c *Config) Finalize(env *Env) error {
	if c.ActorHeader == "" {
		c.ActorHeader = "X-Actor-ID"
	}
	if env != nil {
		c.loadEnv(env)
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Issuer != "" {
		c.Issuer = overlay.Issuer
	}
	if overlay.ClientID != "" {
		c.ClientID = overlay.ClientID
	}
	if overlay.ActorHeader != "" {
		c.ActorHeader = overlay.ActorHeader
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Issuer != "" {
		if v := os.Getenv(env.Issuer); v != "" {
			c.Issuer = v
		}
	}
	if env.ClientID != "" {
		if v := os.Getenv(env.ClientID); v != "" {
			c.ClientID = v
		}
	}
	if env.ActorHeader != "" {
		if v := os.Getenv(env.ActorHeader); v != "" {
			c.ActorHeader = v
		}
	}
}
