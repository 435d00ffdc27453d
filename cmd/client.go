package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/client"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://localhost:8080"
	requestTimeout = 30 * time.Second
)

// flagOrEnv returns the flag value if set, then the env var, then def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// newClient builds an API client from the persistent flags. Without --key or
// --identity the client can still read but every mutating call is rejected.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	// .env is optional
	_ = godotenv.Load()

	server := flagOrEnv(cmd, "server", "PARIMUTUEL_SERVER", defaultServer)
	cfg := client.Config{
		BaseURL:  server,
		Identity: types.NormalizeIdentity(flagOrEnv(cmd, "identity", "PARIMUTUEL_IDENTITY", "")),
		Timeout:  requestTimeout,
	}

	if key := flagOrEnv(cmd, "key", "PARIMUTUEL_PRIVATE_KEY", ""); key != "" {
		signer, err := auth.NewSigner(key)
		if err != nil {
			return nil, err
		}
		cfg.Signer = signer
	}

	return client.New(cfg), nil
}

// wsURL derives the event stream endpoint from the API base URL.
func wsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
