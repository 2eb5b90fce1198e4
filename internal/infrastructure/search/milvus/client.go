// Package milvus stores molecule fingerprints in a Milvus binary vector
// collection for Tanimoto nearest neighbour search.
package milvus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

// ClientFactory creates the SDK client.
type ClientFactory func(ctx context.Context, conf client.Config) (client.Client, error)

// milvusNewClient is replaced in tests.
var milvusNewClient ClientFactory = client.NewClient

// Config holds the connection and collection settings.
type Config struct {
	Address          string        `mapstructure:"address"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	DBName           string        `mapstructure:"db_name"`
	TLSEnabled       bool          `mapstructure:"tls_enabled"`
	TLSCertPath      string        `mapstructure:"tls_cert_path"`
	TLSServerName    string        `mapstructure:"tls_server_name"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	KeepAliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepAliveTimeout time.Duration `mapstructure:"keepalive_timeout"`

	// Collection holds one row per record: its ID and Morgan fingerprint.
	Collection string `mapstructure:"collection"`
	// Radius and NBits fix the fingerprint; NBits is the vector dimension
	// and must be a multiple of 8.
	Radius int `mapstructure:"radius"`
	NBits  int `mapstructure:"n_bits"`
	// NList partitions the BIN_IVF_FLAT index; NProbe is how many
	// partitions a search visits.
	NList  int `mapstructure:"nlist"`
	NProbe int `mapstructure:"nprobe"`
	// StrongConsistency makes a search see every upsert acknowledged
	// before it. Bounded staleness is used otherwise.
	StrongConsistency bool `mapstructure:"strong_consistency"`
}

// ValidateConfig checks a defaulted config.
func ValidateConfig(cfg Config) error {
	if cfg.Address == "" {
		return errors.InvalidParam("milvus address is required")
	}
	if cfg.Collection == "" {
		return errors.InvalidParam("milvus collection is required")
	}
	if cfg.NBits <= 0 || cfg.NBits%8 != 0 {
		return errors.InvalidParam("milvus n_bits must be a positive multiple of 8")
	}
	if cfg.Radius < 0 {
		return errors.InvalidParam("milvus radius must be >= 0")
	}
	if cfg.NList < 1 || cfg.NProbe < 1 {
		return errors.InvalidParam("milvus nlist and nprobe must be >= 1")
	}
	if cfg.ConnectTimeout < 0 {
		return errors.InvalidParam("milvus connect_timeout must be >= 0")
	}
	if cfg.TLSEnabled && cfg.TLSCertPath == "" {
		return errors.InvalidParam("milvus tls_cert_path is required when tls_enabled is set")
	}
	return nil
}

// Client owns the SDK connection.
type Client struct {
	mc      client.Client
	config  Config
	logger  logging.Logger
	healthy atomic.Bool
}

// NewClient connects to Milvus and verifies the server answers.
func NewClient(ctx context.Context, cfg Config, logger logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.DBName == "" {
		cfg.DBName = "default"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAliveTime == 0 {
		cfg.KeepAliveTime = 60 * time.Second
	}
	if cfg.KeepAliveTimeout == 0 {
		cfg.KeepAliveTimeout = 20 * time.Second
	}

	mc, err := connect(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to connect to milvus")
	}
	c := &Client{mc: mc, config: cfg, logger: logger}
	if err := c.CheckHealth(ctx); err != nil {
		_ = mc.Close()
		return nil, err
	}
	logger.Info("milvus client connected", logging.String("address", cfg.Address))
	return c, nil
}

func connect(ctx context.Context, cfg Config) (client.Client, error) {
	conf := client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.DBName,
	}

	var dialOpts []grpc.DialOption
	if cfg.TLSEnabled {
		pem, err := os.ReadFile(cfg.TLSCertPath)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidParam, "failed to read milvus TLS cert")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.InvalidParam("failed to parse milvus TLS cert")
		}
		tlsConfig := &tls.Config{RootCAs: pool, ServerName: cfg.TLSServerName, MinVersion: tls.VersionTLS12}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		conf.EnableTLSAuth = true
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                cfg.KeepAliveTime,
		Timeout:             cfg.KeepAliveTimeout,
		PermitWithoutStream: true,
	}))
	conf.DialOptions = dialOpts

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	return milvusNewClient(connectCtx, conf)
}

// CheckHealth asks the server for its state.
func (c *Client) CheckHealth(ctx context.Context) error {
	state, err := c.mc.CheckHealth(ctx)
	if err == nil && state != nil && !state.IsHealthy {
		err = errors.New(errors.CodeUnavailable, "milvus reports unhealthy").WithDetail(strings.Join(state.Reasons, "; "))
	}
	if err != nil {
		c.healthy.Store(false)
		c.logger.Warn("milvus health check failed", logging.Err(err))
		return errors.Wrap(err, errors.CodeUnavailable, "milvus unhealthy")
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the last health check.
func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// Close closes the connection.
func (c *Client) Close() error {
	err := c.mc.Close()
	c.logger.Info("milvus client closed")
	return err
}
