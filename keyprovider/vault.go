package keyprovider

import (
	"context"
	"crypto/rsa"
	"fmt"
	"path"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/zoobzio/veil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/zoobzio/veil/keyprovider"

// Vault reads private keys from a KV v2 secrets engine. The key for a public
// key with fingerprint fp is the PEM string in field Field of the secret at
// <Mount>/data/<Path>/<fp>.
type Vault struct {
	client *vaultapi.Client
	mount  string
	prefix string
	field  string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewVault connects to the Vault server described by cfg. Address and token
// fall back to VAULT_ADDR and VAULT_TOKEN.
func NewVault(cfg veil.VaultConfig, logger *zap.Logger) (*Vault, error) {
	vc := vaultapi.DefaultConfig()
	if vc.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vc.Error)
	}
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vaultapi.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	return NewVaultWithClient(client, cfg, logger), nil
}

// NewVaultWithClient wraps an existing client. Empty Mount and Field take
// the package defaults.
func NewVaultWithClient(client *vaultapi.Client, cfg veil.VaultConfig, logger *zap.Logger) *Vault {
	if logger == nil {
		logger = zap.NewNop()
	}
	mount, field := cfg.Mount, cfg.Field
	if mount == "" {
		mount = veil.DefaultVaultMount
	}
	if field == "" {
		field = veil.DefaultVaultField
	}
	return &Vault{
		client: client,
		mount:  mount,
		prefix: cfg.Path,
		field:  field,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// FetchPrivateKey reads the private key stored for publicKey.
func (v *Vault) FetchPrivateKey(ctx context.Context, publicKey string) (*rsa.PrivateKey, error) {
	fp, err := veil.Fingerprint(publicKey)
	if err != nil {
		return nil, err
	}
	secretPath := path.Join(v.mount, "data", v.prefix, fp)

	ctx, span := v.tracer.Start(ctx, "keyprovider.Vault.FetchPrivateKey",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("vault.path", secretPath),
			attribute.String("veil.key.fingerprint", fp),
		),
	)
	defer span.End()

	priv, err := v.read(ctx, secretPath, fp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.Debug("vault key lookup failed",
			zap.String("path", secretPath),
			zap.Error(err),
		)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return priv, nil
}

func (v *Vault) read(ctx context.Context, secretPath, fp string) (*rsa.PrivateKey, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, secretPath)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", secretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, secretPath)
	}

	// KV v2 nests the payload under "data"; a deleted version has data: null.
	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, secretPath)
	}
	material, ok := data[v.field].(string)
	if !ok || material == "" {
		return nil, fmt.Errorf("%w: %s has no field %q", ErrKeyNotFound, secretPath, v.field)
	}

	priv, err := veil.ParsePrivateKey(material)
	if err != nil {
		return nil, err
	}
	got, err := fingerprintOf(priv)
	if err != nil {
		return nil, err
	}
	if got != fp {
		return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, secretPath)
	}
	return priv, nil
}

// Name identifies the provider in metrics.
func (v *Vault) Name() string { return veil.ProviderVault }
