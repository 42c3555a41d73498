package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// Rebooter is the hard reboot primitive. Reboot does not return on success.
type Rebooter interface {
	Reboot()
}

// hostRebooter shells out to the platform reboot command.
type hostRebooter struct{}

// NewHostRebooter returns the production Rebooter.
func NewHostRebooter() Rebooter {
	return &hostRebooter{}
}

func (r *hostRebooter) Reboot() {
	log.Println("INFO: Rebooting device...")
	if err := exec.Command("reboot").Run(); err != nil {
		log.Printf("ERROR: Reboot command failed: %v", err)
		// Nothing sensible left to do; exit and let the platform
		// supervisor bring the process back.
		os.Exit(1)
	}
}

// NetworkAssociator joins the device to its WiFi network. Already-associated
// is success.
type NetworkAssociator interface {
	Associate(ssid, password string, timeout time.Duration) error
}

// hostNetwork associates via the platform's network manager CLI.
type hostNetwork struct{}

// NewHostNetwork returns the production NetworkAssociator.
func NewHostNetwork() NetworkAssociator {
	return &hostNetwork{}
}

func (n *hostNetwork) Associate(ssid, password string, timeout time.Duration) error {
	log.Println("INFO: Connecting to WiFi...")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nmcli", "dev", "wifi", "connect", ssid, "password", password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("associate with %q: %v: %s", ssid, err, out)
	}
	return nil
}

// httpFetcher downloads update artifacts over HTTP(S).
type httpFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns the production Fetcher with a bounded timeout.
func NewHTTPFetcher() Fetcher {
	return &httpFetcher{client: &http.Client{Timeout: 60 * time.Second}}
}

func (f *httpFetcher) Fetch(url string) ([]byte, error) {
	resp, err := f.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status code %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", url, err)
	}
	return body, nil
}

// osFileStore is the production FileStore backed by the local filesystem.
type osFileStore struct{}

// NewOSFileStore returns the production FileStore.
func NewOSFileStore() FileStore {
	return &osFileStore{}
}

func (s *osFileStore) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0755)
}

func (s *osFileStore) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (s *osFileStore) Remove(path string) error {
	return os.Remove(path)
}

func (s *osFileStore) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *osFileStore) NotFound(err error) bool {
	return os.IsNotExist(err)
}
