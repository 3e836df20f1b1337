package config

import (
	"crypto/tls"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
)

// DialTemporal connects to Temporal per the configuration: plain connection
// for a local server, mTLS when a cert pair is configured, API-key
// credentials for Temporal Cloud. Interceptors (tracing) are passed through.
func DialTemporal(cfg TemporalConfig, interceptors ...interceptor.ClientInterceptor) (client.Client, error) {
	opts := client.Options{
		HostPort:     cfg.Address,
		Namespace:    cfg.Namespace,
		Interceptors: interceptors,
	}

	switch {
	case cfg.TLSCert != "" && cfg.TLSKey != "":
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("load temporal client cert: %w", err)
		}
		opts.ConnectionOptions = client.ConnectionOptions{
			TLS: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
	case cfg.APIKey != "":
		opts.Credentials = client.NewAPIKeyStaticCredentials(cfg.APIKey)
		opts.ConnectionOptions = client.ConnectionOptions{TLS: &tls.Config{}}
	}

	c, err := client.Dial(opts)
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.Address, err)
	}
	return c, nil
}
