package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	secrets := map[string]string{
		SecretAnthropicAPIKey: "sk-ant-test",
		SecretRedisPassword:   "hunter2",
	}

	if err := EncryptSecretsFile(dir, "correct horse", secrets); err != nil {
		t.Fatalf("EncryptSecretsFile failed: %v", err)
	}
	if !SecretsFileExists(dir) {
		t.Fatal("Expected secrets file to exist")
	}

	info, err := os.Stat(filepath.Join(dir, SecretsFileName))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected 0600 permissions, got %04o", info.Mode().Perm())
	}

	got, err := DecryptSecretsFile(dir, "correct horse")
	if err != nil {
		t.Fatalf("DecryptSecretsFile failed: %v", err)
	}
	if got[SecretAnthropicAPIKey] != "sk-ant-test" || got[SecretRedisPassword] != "hunter2" {
		t.Errorf("Unexpected secrets: %v", got)
	}

	if _, err := DecryptSecretsFile(dir, "wrong"); err == nil {
		t.Error("Expected error for wrong password")
	}
}

func TestGetSecretPrecedence(t *testing.T) {
	t.Cleanup(func() { SetDecryptedSecrets(nil) })
	t.Setenv(SecretOpenAIAPIKey, "from-env")

	SetDecryptedSecrets(nil)
	if v, err := GetSecret(SecretOpenAIAPIKey); err != nil || v != "from-env" {
		t.Errorf("Expected env value, got %q (%v)", v, err)
	}

	SetSecret(SecretOpenAIAPIKey, "from-file")
	if v, _ := GetSecret(SecretOpenAIAPIKey); v != "from-file" {
		t.Errorf("Expected secrets file to win, got %q", v)
	}

	if _, err := GetSecret("TENANTOPS_MISSING_SECRET"); err == nil {
		t.Error("Expected error for missing secret")
	}
}
