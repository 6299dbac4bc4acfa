package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"tenantops/pkg/config"
)

// PasswordEnv holds the secrets file password for non-interactive runs.
const PasswordEnv = "TENANTOPS_PASSWORD"

// loadSecrets decrypts dir/secrets.json.enc into memory when it exists.
func loadSecrets(dir string, prompt io.Writer) error {
	if !config.SecretsFileExists(dir) {
		return nil
	}
	password := os.Getenv(PasswordEnv)
	if password == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("secrets file %s is encrypted: set %s", filepath.Join(dir, config.SecretsFileName), PasswordEnv)
		}
		fmt.Fprint(prompt, "🔐 Secrets password: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
		zeroBytes(raw)
	}

	secrets, err := config.DecryptSecretsFile(dir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	config.LogInfo("🔓 Loaded %d secrets", len(secrets))
	return nil
}

// runSecrets implements "secrets set NAME" and "secrets list".
func runSecrets(_ context.Context, e *env, args []string) error {
	fs := newFlagSet(e, "secrets", "set NAME | list")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	dir := filepath.Dir(e.configPath)

	switch {
	case fs.NArg() == 1 && fs.Arg(0) == "list":
		if err := loadSecrets(dir, e.errOut); err != nil {
			return err
		}
		for _, name := range config.SecretNames() {
			fmt.Fprintln(e.out, name)
		}
		return nil

	case fs.NArg() == 2 && fs.Arg(0) == "set":
		name := fs.Arg(1)
		password, err := secretsPassword(e.errOut)
		if err != nil {
			return err
		}
		existing := map[string]string{}
		if config.SecretsFileExists(dir) {
			if existing, err = config.DecryptSecretsFile(dir, password); err != nil {
				return fmt.Errorf("failed to open existing secrets: %w", err)
			}
		}
		value, err := readSecretValue(e.errOut, name)
		if err != nil {
			return err
		}
		existing[name] = value
		if err := config.EncryptSecretsFile(dir, password, existing); err != nil {
			return fmt.Errorf("failed to save secrets: %w", err)
		}
		fmt.Fprintf(e.out, "✅ Saved %s to %s\n", name, filepath.Join(dir, config.SecretsFileName))
		return nil

	default:
		fs.Usage()
		return usageErrorf("expected \"set NAME\" or \"list\"")
	}
}

// secretsPassword reads the password from the environment or asks twice on a terminal.
func secretsPassword(prompt io.Writer) (string, error) {
	if password := os.Getenv(PasswordEnv); password != "" {
		return password, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for a password prompt: set %s", PasswordEnv)
	}

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(prompt, "Enter the secrets password: ")
		first, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm password: ")
		second, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}

		match := bytes.Equal(first, second) && len(first) > 0
		password := string(first)
		zeroBytes(first)
		zeroBytes(second)
		if match {
			return password, nil
		}
		if attempt < maxAttempts {
			fmt.Fprintln(prompt, "❌ Passwords do not match. Please try again.")
		}
	}
	return "", fmt.Errorf("passwords do not match after %d attempts", maxAttempts)
}

// readSecretValue reads without echo on a terminal, or one line from piped stdin.
func readSecretValue(prompt io.Writer, name string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(prompt, "Value for %s: ", name)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read value: %w", err)
		}
		value := string(raw)
		zeroBytes(raw)
		return value, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read value from stdin: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", usageErrorf("empty value for %s", name)
	}
	return value, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
