// Command healthcheck checks the admin server of extproc-remap. It exits
// non-zero when the check fails, for use as a container health check in
// images without a shell.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultURL = "http://127.0.0.1:8080/healthz"

func main() {
	url := defaultURL
	if len(os.Args) > 2 {
		log.Fatalf("usage: %s [url]", os.Args[0])
	}
	if len(os.Args) == 2 {
		url = os.Args[1]
	}
	if err := check(url, 3*time.Second); err != nil {
		log.Printf("healthcheck failed: %v", err)
		os.Exit(1)
	}
}

func check(url string, timeout time.Duration) error {
	client := http.Client{Timeout: timeout}
	r, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer r.Body.Close()

	if r.StatusCode >= 400 {
		return fmt.Errorf("requesting %s -> %d", url, r.StatusCode)
	}
	return nil
}
