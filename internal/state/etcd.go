package state

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/indexcore/solrupdater/internal/config"
)

type etcdKV struct {
	client  *clientv3.Client
	prefix  string
	timeout time.Duration
}

func newEtcdKV(cfg config.StateStoreConfig) (*etcdKV, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Address},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &etcdKV{client: cli, prefix: cfg.Prefix, timeout: 10 * time.Second}, nil
}

func (s *etcdKV) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.Get(ctx, s.prefix+key)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	return resp.Kvs[0].Value, nil
}

func (s *etcdKV) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Put(ctx, s.prefix+key, string(value))
	return err
}

func (s *etcdKV) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Delete(ctx, s.prefix+key)
	return err
}

func (s *etcdKV) Close() error {
	return s.client.Close()
}
