package chain

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

const (
	// DefaultRPCTimeout is the timeout of a single RPC call.
	DefaultRPCTimeout = 30 * time.Second

	// DefaultRPCRateLimit is the default number of requests per second
	// sent to a single service.
	DefaultRPCRateLimit = 10

	// maxResponseSize caps the size of a response body.
	maxResponseSize = 32 << 20

	// breakerTripFailures is the number of consecutive transport failures
	// after which the breaker stops letting requests through.
	breakerTripFailures = 5

	// breakerOpenTimeout is how long the breaker stays open before a
	// probing request is let through.
	breakerOpenTimeout = 30 * time.Second
)

// RPCConfig is the configuration of a connection to an RPC service.
type RPCConfig struct {
	Host        string        `long:"host" description:"host:port of the RPC service."`
	TLSCertPath string        `long:"tlscertpath" description:"Path to the client certificate presented to the service."`
	TLSKeyPath  string        `long:"tlskeypath" description:"Path to the key of the client certificate."`
	CACertPath  string        `long:"cacertpath" description:"Path to the CA certificate the service certificate is checked against. If empty the service certificate is not verified."`
	RateLimit   int           `long:"ratelimit" description:"Maximum number of requests per second, 0 for no limit."`
	Timeout     time.Duration `long:"timeout" description:"Timeout of a single request."`

	// UserAgent is sent with every request when set.
	UserAgent string `no-flag:"true"`
}

// RPCError is an error reported by the remote service.
type RPCError struct {
	// Endpoint is the method that failed.
	Endpoint string

	// Message is the error string returned by the service.
	Message string
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc %s failed: %s", e.Endpoint, e.Message)
}

// isNotFound returns whether err is a service error about a missing item.
func isNotFound(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) &&
		strings.Contains(strings.ToLower(rpcErr.Message), "not found")
}

// rpcStatus is the envelope every response carries.
type rpcStatus struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// rpcClient posts JSON requests to a service, pacing them with a rate
// limiter and guarding them with a circuit breaker.
type rpcClient struct {
	name      string
	baseURL   string
	userAgent string
	http    *http.Client
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newRPCClient(name, baseURL string, httpClient *http.Client,
	rateLimit int) *rpcClient {

	limiter := ratelimit.NewUnlimited()
	if rateLimit > 0 {
		limiter = ratelimit.New(rateLimit)
	}

	return &rpcClient{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		limiter: limiter,
		breaker: newCircuitBreaker(name),
	}
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warnf("%s seems down, stop allowing "+
					"requests", name)
			}
			if from == gobreaker.StateOpen &&
				to == gobreaker.StateHalfOpen {

				log.Infof("Checking %s status", name)
			}
			if from == gobreaker.StateHalfOpen &&
				to == gobreaker.StateClosed {

				log.Infof("%s seems ok, restart allowing "+
					"requests", name)
			}
		},
	})
}

// newHTTPClient builds the mutually authenticated client of a service.
func newHTTPClient(cfg *RPCConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("unable to load client "+
				"certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	// Service certificates are issued by a private CA for a fixed host
	// name, so the chain is checked against the CA without checking the
	// name.
	tlsCfg.InsecureSkipVerify = true // nolint:gosec
	if cfg.CACertPath != "" {
		caPEM, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read CA "+
				"certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates in %s",
				cfg.CACertPath)
		}
		tlsCfg.VerifyPeerCertificate = verifyWithPool(pool)
	} else {
		log.Warnf("No CA certificate for %s, the service certificate "+
			"will not be verified", cfg.Host)
	}

	timeout := DefaultRPCTimeout
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
		},
	}, nil
}

// verifyWithPool returns a certificate check against pool that ignores the
// host name.
func verifyWithPool(pool *x509.CertPool) func([][]byte,
	[][]*x509.Certificate) error {

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return errors.New("no server certificate")
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		_, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         pool,
			Intermediates: intermediates,
		})

		return err
	}
}

// call posts req to endpoint and decodes the response into resp. Transport
// failures count against the circuit breaker; errors reported by the service
// are returned as *RPCError.
func (c *rpcClient) call(ctx context.Context, endpoint string, req,
	resp any) error {

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("unable to encode %s request: %w", endpoint,
			err)
	}

	c.limiter.Take()

	log.Tracef("%s: calling %s", c.name, endpoint)

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		httpReq, err := http.NewRequestWithContext(
			ctx, http.MethodPost, c.baseURL+"/"+endpoint,
			bytes.NewReader(body),
		)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}

		res, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
		if err != nil {
			return nil, err
		}

		// The services report application errors in the body, a
		// non 200 status means the service itself is unhealthy.
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("http status %d: %s",
				res.StatusCode, bytes.TrimSpace(data))
		}

		return data, nil
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.name, endpoint, err)
	}
	data := raw.([]byte)

	var status rpcStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("unable to decode %s response: %w", endpoint,
			err)
	}
	if !status.Success {
		return &RPCError{
			Endpoint: endpoint,
			Message:  status.Error,
		}
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(data, resp); err != nil {
		return fmt.Errorf("unable to decode %s response: %w", endpoint,
			err)
	}

	return nil
}
