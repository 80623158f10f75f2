package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"

	"painterhub-platform/pkg/config"
	"painterhub-platform/pkg/errutil"

	vault "github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secrets",
	fx.Provide(
		ProvideVault,
		NewStore,
	),
)

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

const (
	ChannelVault = "vault"
	ChannelLocal = "local"
)

// Store writes named configuration values through the vault KV channel and
// falls back to a local file when vault is unreachable. Both channels sit
// behind the same authenticated admin surface.
type Store struct {
	vault     *vault.Client
	mount     string
	path      string
	localPath string

	mu sync.Mutex
}

type StoreParams struct {
	fx.In
	Config *config.Config
	Vault  *vault.Client `optional:"true"`
}

func NewStore(p StoreParams) *Store {
	mount := p.Config.Vault.MountPath
	if mount == "" {
		mount = "secret"
	}
	path := p.Config.Vault.SecretPath
	if path == "" {
		path = p.Config.AppEnv
	}

	return &Store{
		vault:     p.Vault,
		mount:     mount,
		path:      path,
		localPath: "secrets.local.json",
	}
}

// Set stores a named value and reports which channel served the write.
func (s *Store) Set(ctx context.Context, name, value string) (string, error) {
	if name == "" {
		return "", errutil.ValidationFailed("secret name is required", nil)
	}

	if s.vault != nil {
		if err := s.setVault(ctx, name, value); err == nil {
			return ChannelVault, nil
		} else {
			zap.L().Warn("vault write failed, falling back to local channel",
				zap.String("name", name), zap.Error(err))
		}
	}

	if err := s.setLocal(name, value); err != nil {
		return "", errutil.Internal("failed to store secret", err)
	}
	return ChannelLocal, nil
}

// Get reads a named value, preferring the vault channel.
func (s *Store) Get(ctx context.Context, name string) (string, string, error) {
	if s.vault != nil {
		if v, err := s.getVault(ctx, name); err == nil {
			return v, ChannelVault, nil
		}
	}

	v, err := s.getLocal(name)
	if err != nil {
		return "", "", errutil.NotFound("secret not found", err)
	}
	return v, ChannelLocal, nil
}

func (s *Store) setVault(ctx context.Context, name, value string) error {
	data := map[string]interface{}{}
	if resp, err := s.vault.Secrets.KvV2Read(ctx, s.path, vault.WithMountPath(s.mount)); err == nil {
		for k, v := range resp.Data.Data {
			data[k] = v
		}
	}
	data[name] = value

	_, err := s.vault.Secrets.KvV2Write(ctx, s.path, schema.KvV2WriteRequest{
		Data: data,
	}, vault.WithMountPath(s.mount))
	return err
}

func (s *Store) getVault(ctx context.Context, name string) (string, error) {
	resp, err := s.vault.Secrets.KvV2Read(ctx, s.path, vault.WithMountPath(s.mount))
	if err != nil {
		return "", err
	}
	if v, ok := resp.Data.Data[name].(string); ok {
		return v, nil
	}
	return "", errors.New("secret key not present")
}

func (s *Store) setLocal(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.readLocal()
	data[name] = value

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.localPath, b, 0o600)
}

func (s *Store) getLocal(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.readLocal()
	if v, ok := data[name]; ok {
		return v, nil
	}
	return "", errors.New("secret key not present")
}

func (s *Store) readLocal() map[string]string {
	data := map[string]string{}
	b, err := os.ReadFile(s.localPath)
	if err != nil {
		return data
	}
	_ = json.Unmarshal(b, &data)
	return data
}
