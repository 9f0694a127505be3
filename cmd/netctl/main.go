// Command netctl is a small example CLI exercising the netcore client:
// issuing requests, running a batch from a file, and managing a persisted
// OAuth2 client_credentials token via auth.fileStore (§6's "persisted
// state: the token store opaquely serializes Token").
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	netcore "github.com/harborlink/netcore"
	"github.com/harborlink/netcore/pkg/auth"
	"github.com/harborlink/netcore/pkg/batch"
	"github.com/harborlink/netcore/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "get":
		cmdGet(os.Args[2:])
	case "batch":
		cmdBatch(os.Args[2:])
	case "login":
		cmdLogin(os.Args[2:])
	case "logout":
		cmdLogout(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: netctl <get|batch|login|logout> [flags]")
}

func tokenDir() string {
	dir := os.Getenv("NETCTL_TOKEN_DIR")
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "netctl-tokens")
	}
	return dir
}

func newClient(baseURL string, verbose bool) *netcore.Client {
	cfg := config.Default()
	cfg.BaseURL = baseURL

	var log *logrus.Entry
	if verbose {
		l := logrus.New()
		l.SetLevel(logrus.DebugLevel)
		log = logrus.NewEntry(l)
	}

	return netcore.New(cfg, log)
}

func cmdGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	base := fs.String("base", "", "base URL")
	endpoint := fs.String("endpoint", "/", "endpoint, relative to -base")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)

	c := newClient(*base, *verbose)
	raw, err := c.ExecuteRaw(context.Background(), &netcore.Request{
		Method:   http.MethodGet,
		Endpoint: *endpoint,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("%d %s\n", raw.StatusCode, raw.Body)
}

// batchSpec is one line of the batch input file: {"id":"...","method":"GET","endpoint":"/x","priority":0}
type batchSpec struct {
	ID       string `json:"id"`
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
	Priority int    `json:"priority"`
}

func cmdBatch(args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	base := fs.String("base", "", "base URL")
	file := fs.String("file", "", "newline-delimited JSON batch spec file")
	concurrency := fs.Int("concurrency", 5, "max concurrent requests")
	priority := fs.Bool("priority", false, "enable priority scheduling")
	fs.Parse(args)

	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer f.Close()

	var items []netcore.BatchItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var spec batchSpec
		if err := json.Unmarshal([]byte(line), &spec); err != nil {
			fmt.Fprintln(os.Stderr, "skipping malformed line:", err)
			continue
		}
		items = append(items, netcore.BatchItem{
			ID:       spec.ID,
			Priority: spec.Priority,
			Request:  &netcore.Request{Method: spec.Method, Endpoint: spec.Endpoint},
		})
	}

	c := newClient(*base, false)
	_, stats, err := c.RunBatch(context.Background(), items, func(e *batch.Executor) {
		e.MaxConcurrent = *concurrency
		e.PriorityQueue = *priority
	})
	fmt.Printf("completed: %d succeeded, %d failed, total %s\n", stats.Successes, stats.Failures, stats.TotalDuration)
	if err != nil {
		fmt.Fprintln(os.Stderr, "batch errors:", err)
		os.Exit(1)
	}
}

func cmdLogin(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	clientID := fs.String("client-id", "", "OAuth2 client id")
	clientSecret := fs.String("client-secret", "", "OAuth2 client secret")
	tokenURL := fs.String("token-url", "", "OAuth2 token endpoint")
	fs.Parse(args)

	store := auth.NewFileStore(tokenDir())
	identity := auth.Identity{ClientID: *clientID}
	provider := auth.ProviderConfig{ClientID: *clientID, ClientSecret: *clientSecret, TokenURL: *tokenURL}

	mgr := auth.NewManager(identity, provider, store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tok, err := mgr.Authenticate(ctx, auth.GrantClientCredentials, auth.AuthenticateOptions{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		os.Exit(1)
	}
	fmt.Println("logged in, token expires at", tok.ExpiresAt)
}

func cmdLogout(args []string) {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	clientID := fs.String("client-id", "", "OAuth2 client id")
	fs.Parse(args)

	store := auth.NewFileStore(tokenDir())
	if err := store.Delete(auth.Identity{ClientID: *clientID}.Key()); err != nil {
		fmt.Fprintln(os.Stderr, "logout failed:", err)
		os.Exit(1)
	}
	fmt.Println("logged out")
}
