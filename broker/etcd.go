package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdConfig configures the etcd-backed spec registry.
type EtcdConfig struct {
	// Endpoints is the list of etcd cluster endpoints.
	Endpoints []string

	// Namespace is the key prefix under which specs are stored.
	// Defaults to "redress".
	Namespace string

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration
}

// EtcdRegistry reads removal specs from an etcd cluster. Managed
// deployments publish curated broker specs under
// <namespace>/brokers/<broker-id> as JSON; the engine only ever reads them.
//
// Thread-safety: all methods are safe for concurrent use.
type EtcdRegistry struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdRegistry connects to the etcd cluster and verifies connectivity.
// The registry must be closed with Close() when no longer needed.
func NewEtcdRegistry(cfg EtcdConfig) (*EtcdRegistry, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd registry endpoints cannot be empty")
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "redress"
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}

	// Verify connectivity with a quick read
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Get(ctx, namespace+"/health-check"); err != nil && err != context.DeadlineExceeded {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &EtcdRegistry{
		client: cli,
		prefix: namespace + "/brokers/",
	}, nil
}

// Get returns the spec stored under <prefix><brokerID>.
func (r *EtcdRegistry) Get(ctx context.Context, brokerID string) (*RemovalSpec, error) {
	resp, err := r.client.Get(ctx, r.prefix+brokerID)
	if err != nil {
		return nil, fmt.Errorf("etcd get broker %s: %w", brokerID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("broker %s: %w", brokerID, ErrSpecNotFound)
	}

	return decodeSpec(resp.Kvs[0].Value)
}

// List returns all specs under the registry prefix, ordered by broker ID.
func (r *EtcdRegistry) List(ctx context.Context) ([]*RemovalSpec, error) {
	resp, err := r.client.Get(ctx, r.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("etcd list brokers: %w", err)
	}

	specs := make([]*RemovalSpec, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		spec, err := decodeSpec(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", kv.Key, err)
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].BrokerID < specs[j].BrokerID })
	return specs, nil
}

// Close releases the underlying etcd connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func decodeSpec(value []byte) (*RemovalSpec, error) {
	var spec RemovalSpec
	if err := json.Unmarshal(value, &spec); err != nil {
		return nil, fmt.Errorf("unmarshal removal spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
