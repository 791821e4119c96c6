// Command setwebhook points the Telegram bot at this deployment's webhook
// endpoint, or inspects and clears the current registration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func main() {
	var (
		actionFlag string
		urlFlag    string
	)
	flag.StringVar(&actionFlag, "action", "set", "set, info, or delete")
	flag.StringVar(&urlFlag, "url", "", "public webhook URL (defaults to WEBHOOK_URL)")
	flag.Parse()

	_ = godotenv.Load()

	token := strings.TrimSpace(os.Getenv("TELEGRAM_KEY"))
	if token == "" {
		exitWithError(errors.New("TELEGRAM_KEY is required"))
	}
	base := strings.TrimRight(getenvDefault("TELEGRAM_BASE_URL", "https://api.telegram.org"), "/") + "/bot" + token

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch actionFlag {
	case "set":
		hook := strings.TrimSpace(urlFlag)
		if hook == "" {
			hook = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
		}
		if hook == "" {
			exitWithError(errors.New("provide -url or set WEBHOOK_URL"))
		}
		call(ctx, base+"/setWebhook?url="+url.QueryEscape(hook))
	case "info":
		call(ctx, base+"/getWebhookInfo")
	case "delete":
		call(ctx, base+"/deleteWebhook")
	default:
		exitWithError(fmt.Errorf("unknown action %q", actionFlag))
	}
}

func call(ctx context.Context, endpoint string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		exitWithError(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		exitWithError(err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		exitWithError(fmt.Errorf("decode response: %w", err))
	}
	out, _ := json.MarshalIndent(payload, "", "  ")
	fmt.Println(string(out))
	if ok, _ := payload["ok"].(bool); !ok {
		os.Exit(1)
	}
}

func getenvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
