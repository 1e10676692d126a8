package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/park285/matey-server/internal/wsclient"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
)

var (
	okf   = color.New(color.FgGreen).PrintfFunc()
	failf = color.New(color.FgRed, color.Bold).PrintfFunc()
	topic = color.New(color.FgCyan).SprintFunc()
	event = color.New(color.FgYellow).SprintFunc()
)

func main() {
	_ = godotenv.Load()

	baseURL := pflag.String("base-url", envOr("MATEY_BASE_URL", "http://localhost:8080"), "server base URL")
	token := pflag.String("token", os.Getenv("MATEY_TOKEN"), "JWT for the websocket handshake")
	userID := pflag.String("user-id", envOr("MATEY_USER_ID", "mateycheck"), "user id when the server runs without JWT_SECRET")
	watch := pflag.Duration("watch", 10*time.Second, "how long to print websocket frames")
	pflag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	if !checkHealth(base) {
		os.Exit(1)
	}

	wsURL, header, err := handshake(base, *token, *userID)
	if err != nil {
		failf("ws url: %v\n", err)
		os.Exit(1)
	}
	c := wsclient.New(wsURL, 3, wsclient.WithHeader(header))
	c.OnState(func(s wsclient.State) { fmt.Printf("ws state: %s\n", s) })
	c.OnFrame(func(f wsclient.Frame) {
		switch {
		case f.Topic != "":
			fmt.Printf("%s %s\n", topic(f.Topic), f.Payload)
		case f.Type == "ERROR":
			failf("%s %s\n", f.Type, f.Raw)
		default:
			fmt.Printf("%s %s\n", event(f.Type), f.Raw)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		failf("ws connect: %v\n", err)
		os.Exit(1)
	}
	okf("ws connected\n")
	if err := c.Send(ctx, map[string]string{"type": "online.get"}); err != nil {
		failf("ws send: %v\n", err)
	}

	time.Sleep(*watch)
	cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer ccancel()
	_ = c.Close(cctx)
}

func checkHealth(base string) bool {
	status, body, err := fasthttp.GetTimeout(nil, base+"/healthz", 5*time.Second)
	if err != nil {
		failf("/healthz error: %v\n", err)
		return false
	}
	if status != http.StatusOK {
		failf("/healthz %d: %s\n", status, body)
		return false
	}
	okf("/healthz ok: %s", body)
	return true
}

// handshake turns base into the websocket URL. A token goes in the Authorization header;
// without one the user id rides in the query.
func handshake(base, token, userID string) (string, http.Header, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else {
		q := u.Query()
		q.Set("userId", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), header, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
