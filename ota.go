package main

import (
	"fmt"
	"log"
	"time"
)

// UpdatePhase tracks where a self-update attempt currently is, so a failure
// can be reported with a code naming the exact phase that died.
type UpdatePhase int

const (
	PhaseDownloading UpdatePhase = iota
	PhaseValidating
	PhaseSwapping
	PhaseRebooting
	PhaseFailed
)

func (p UpdatePhase) String() string {
	switch p {
	case PhaseDownloading:
		return "downloading"
	case PhaseValidating:
		return "validating"
	case PhaseSwapping:
		return "swapping"
	case PhaseRebooting:
		return "rebooting"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Fetcher retrieves the replacement logic artifact from a URL.
type Fetcher interface {
	Fetch(url string) ([]byte, error)
}

// FileStore is the file primitive used for the staging/backup/live swap.
// NotFound distinguishes the one error class the swap is allowed to ignore.
type FileStore interface {
	WriteFile(path string, data []byte) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Size(path string) (int64, error)
	NotFound(err error) bool
}

// UpdateTransaction is the ephemeral state of one self-update attempt. The
// dispatcher processes one command at a time, so transactions never overlap.
type UpdateTransaction struct {
	SourceURL   string
	StagingPath string
	BackupPath  string
	TargetPath  string
	Phase       UpdatePhase
}

// UpdateEngine downloads replacement logic, validates it, rotates the live
// file into the backup slot and reboots. The swap is two renames, not one:
// a crash between them leaves no live file. That window is accepted because
// a reboot immediately follows and nothing re-executes the live slot before
// the swap completes. There is no rollback once the renames begin.
type UpdateEngine struct {
	transport   Transport
	statusTopic string
	fetcher     Fetcher
	files       FileStore
	target      string
	flushDelay  time.Duration
}

// NewUpdateEngine creates an engine replacing the logic file at target.
func NewUpdateEngine(transport Transport, statusTopic string, fetcher Fetcher, files FileStore, target string) *UpdateEngine {
	return &UpdateEngine{
		transport:   transport,
		statusTopic: statusTopic,
		fetcher:     fetcher,
		files:       files,
		target:      target,
		flushDelay:  rebootFlushDelay,
	}
}

// Run performs one update attempt. It returns PhaseRebooting when the swap
// succeeded and the caller must reboot, or PhaseFailed when the device should
// resume polling for commands.
func (e *UpdateEngine) Run(url string) UpdatePhase {
	tx := &UpdateTransaction{
		SourceURL:   url,
		StagingPath: e.target + ".next",
		BackupPath:  e.target + ".old",
		TargetPath:  e.target,
		Phase:       PhaseDownloading,
	}

	log.Printf("INFO: Starting OTA update from URL: %s", url)
	e.publishStatus(map[string]interface{}{"status": "ota_starting", "url": url})

	if !e.download(tx) {
		return tx.Phase
	}
	if !e.validate(tx) {
		return tx.Phase
	}
	if !e.swap(tx) {
		return tx.Phase
	}

	tx.Phase = PhaseRebooting
	log.Println("INFO: OTA update successful, requesting reboot...")
	e.publishStatus(map[string]interface{}{"status": "ota_success_rebooting"})
	time.Sleep(e.flushDelay)
	return tx.Phase
}

// download fetches the artifact into the staging slot. Any partial staging
// artifact is removed on failure.
func (e *UpdateEngine) download(tx *UpdateTransaction) bool {
	tx.Phase = PhaseDownloading

	data, err := e.fetcher.Fetch(tx.SourceURL)
	if err != nil {
		log.Printf("ERROR: OTA download failed: %v", err)
		return e.failDownload(tx)
	}

	if err := e.files.WriteFile(tx.StagingPath, data); err != nil {
		log.Printf("ERROR: Failed to stage downloaded script: %v", err)
		return e.failDownload(tx)
	}

	log.Printf("INFO: New script saved to %s", tx.StagingPath)
	return true
}

// validate applies the minimal integrity gate: the staged artifact must be
// non-empty. A zero-length download is deleted and reported as a download
// failure.
func (e *UpdateEngine) validate(tx *UpdateTransaction) bool {
	tx.Phase = PhaseValidating

	size, err := e.files.Size(tx.StagingPath)
	if err != nil || size == 0 {
		if err != nil {
			log.Printf("ERROR: Could not stat staged artifact: %v", err)
		} else {
			log.Println("ERROR: Downloaded file is empty!")
		}
		return e.failDownload(tx)
	}

	log.Println("INFO: Basic validation passed (file exists and size > 0)")
	return true
}

// swap rotates the backup and moves the staged artifact into the live slot.
func (e *UpdateEngine) swap(tx *UpdateTransaction) bool {
	tx.Phase = PhaseSwapping

	if err := e.files.Remove(tx.BackupPath); err != nil && !e.files.NotFound(err) {
		return e.failFinalize(tx, fmt.Errorf("remove old backup: %w", err))
	}

	// First-ever deploy has no prior live file; not-found is fine here.
	if err := e.files.Rename(tx.TargetPath, tx.BackupPath); err != nil && !e.files.NotFound(err) {
		return e.failFinalize(tx, fmt.Errorf("rotate live to backup: %w", err))
	}

	if err := e.files.Rename(tx.StagingPath, tx.TargetPath); err != nil {
		return e.failFinalize(tx, fmt.Errorf("install staged artifact: %w", err))
	}

	log.Printf("INFO: Renamed %s to %s. Update successful.", tx.StagingPath, tx.TargetPath)
	return true
}

func (e *UpdateEngine) failDownload(tx *UpdateTransaction) bool {
	if err := e.files.Remove(tx.StagingPath); err != nil && !e.files.NotFound(err) {
		log.Printf("WARN: Could not remove staging artifact: %v", err)
	}
	tx.Phase = PhaseFailed
	e.publishStatus(map[string]interface{}{"status": "ota_download_failed"})
	return false
}

// failFinalize reports a failure after destructive renames may have begun.
// Files are left as they lie for the next restart to sort out.
func (e *UpdateEngine) failFinalize(tx *UpdateTransaction, err error) bool {
	log.Printf("ERROR: Exception during OTA finalize: %v", err)
	tx.Phase = PhaseFailed
	e.publishStatus(map[string]interface{}{"status": "ota_finalize_failed", "error": err.Error()})
	return false
}

// publishStatus is best-effort: a failed status publish is logged, never
// escalated, so error reporting cannot recurse into more error reporting.
func (e *UpdateEngine) publishStatus(fields map[string]interface{}) {
	if err := publishJSON(e.transport, e.statusTopic, fields); err != nil {
		log.Printf("WARN: Could not publish OTA status: %v", err)
	}
}
