package config

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager_GetSecret(t *testing.T) {
	manager := &EnvSecretManager{}
	t.Setenv("VIGILANTEYE_ABUSEIPDB_KEY", "abc123")

	value, err := manager.GetSecret(SecretReputationAPIKey)
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)

	_, err = manager.GetSecret("not_set_anywhere")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

type fakeVault struct {
	secret *api.Secret
	err    error
	path   string
}

func (f *fakeVault) Read(path string) (*api.Secret, error) {
	f.path = path
	return f.secret, f.err
}

func TestVaultSecretManager_GetSecret(t *testing.T) {
	t.Run("kv v1", func(t *testing.T) {
		fv := &fakeVault{secret: &api.Secret{Data: map[string]interface{}{"shuffle_api_key": "s-1"}}}
		v := &VaultSecretManager{path: "secret/vigilanteye", client: fv}

		value, err := v.GetSecret(SecretSOARAPIKey)
		require.NoError(t, err)
		assert.Equal(t, "s-1", value)
		assert.Equal(t, "secret/vigilanteye", fv.path)
	})

	t.Run("kv v2", func(t *testing.T) {
		fv := &fakeVault{secret: &api.Secret{Data: map[string]interface{}{
			"data": map[string]interface{}{"splunk_hec_token": "hec"},
		}}}
		v := &VaultSecretManager{path: "secret/data/vigilanteye", client: fv}

		value, err := v.GetSecret(SecretForwarderToken)
		require.NoError(t, err)
		assert.Equal(t, "hec", value)
	})

	t.Run("missing key", func(t *testing.T) {
		v := &VaultSecretManager{client: &fakeVault{secret: &api.Secret{Data: map[string]interface{}{}}}}
		_, err := v.GetSecret("absent")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("nothing stored", func(t *testing.T) {
		v := &VaultSecretManager{client: &fakeVault{}}
		_, err := v.GetSecret("absent")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("non string", func(t *testing.T) {
		v := &VaultSecretManager{client: &fakeVault{secret: &api.Secret{Data: map[string]interface{}{"k": 3}}}}
		_, err := v.GetSecret("k")
		assert.Error(t, err)
	})

	t.Run("read error", func(t *testing.T) {
		v := &VaultSecretManager{client: &fakeVault{err: errors.New("sealed")}}
		_, err := v.GetSecret("k")
		assert.ErrorContains(t, err, "sealed")
	})
}

type fakeSecretsManager struct {
	secretsmanageriface.SecretsManagerAPI
	value *string
	err   error
	id    string
}

func (f *fakeSecretsManager) GetSecretValue(in *secretsmanager.GetSecretValueInput) (*secretsmanager.GetSecretValueOutput, error) {
	f.id = aws.StringValue(in.SecretId)
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestAWSSecretManager_GetSecret(t *testing.T) {
	fsm := &fakeSecretsManager{value: aws.String(`{"shuffle_workflow_id":"wf-9"}`)}
	a := &AWSSecretManager{secretID: "vigilanteye/secrets", client: fsm}

	value, err := a.GetSecret(SecretSOARWorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "wf-9", value)
	assert.Equal(t, "vigilanteye/secrets", fsm.id)

	_, err = a.GetSecret("absent")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	a.client = &fakeSecretsManager{value: aws.String("not json")}
	_, err = a.GetSecret("k")
	assert.ErrorContains(t, err, "parse")

	a.client = &fakeSecretsManager{}
	_, err = a.GetSecret("k")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestNewSecretManager(t *testing.T) {
	cfg := &Config{}
	m, err := NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, m)

	cfg.Secrets.Provider = "vault"
	cfg.Secrets.Vault.Address = "http://127.0.0.1:8200"
	m, err = NewSecretManager(cfg)
	require.NoError(t, err)
	assert.IsType(t, &VaultSecretManager{}, m)

	cfg.Secrets.Provider = "gcp"
	_, err = NewSecretManager(cfg)
	assert.Error(t, err)
}

type mapSecrets map[string]string

func (m mapSecrets) GetSecret(key string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

func TestLoadSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Reputation.APIKey = "from-config"

	missing := LoadSecrets(cfg, mapSecrets{
		SecretReputationAPIKey: "from-provider",
		SecretSOARAPIKey:       "shuffle",
	})

	assert.Equal(t, "from-config", cfg.Reputation.APIKey)
	assert.Equal(t, "shuffle", cfg.SOAR.APIKey)
	assert.Empty(t, cfg.SOAR.WorkflowID)
	assert.Empty(t, cfg.Forwarder.Token)
	assert.ElementsMatch(t, []string{SecretSOARWorkflowID, SecretForwarderToken}, missing)
}
