package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/cuemby/knbase/pkg/filescanner"
	"github.com/cuemby/knbase/pkg/interruption"
	"github.com/cuemby/knbase/pkg/log"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scan continuously, rescanning when base directories change",
	Long: `Watch runs an initial ingestion pass, then watches every base
directory for file events. Changes trigger a debounced rescan; a failing
scan is retried with exponential backoff.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	h, scanner, err := openHub()
	if err != nil {
		return err
	}
	defer h.Close()
	defer scanner.Close()

	logger := log.WithComponent("watch")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	bases, err := h.GetKnowledgeBases()
	if err != nil {
		return err
	}
	for _, base := range bases {
		var params filescanner.BaseParams
		if err := json.Unmarshal(base.ResourceParams, &params); err != nil {
			logger.Warn().Err(err).Int64("base_id", base.ID).Msg("skipping base with invalid params")
			continue
		}
		if err := watchTree(watcher, params.Path); err != nil {
			logger.Warn().Err(err).Str("path", params.Path).Msg("failed to watch base directory")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Warn().Msg("interrupt received, unwinding")
		h.Interrupt()
		watcher.Close()
	}()

	scan := func() error {
		policy := backoff.NewExponentialBackOff()
		policy.MaxElapsedTime = 0
		policy.MaxInterval = cfg.Watch.MaxBackoff
		return backoff.Retry(func() error {
			err := h.Scan()
			if errors.Is(err, interruption.ErrInterrupted) {
				// interrupted means shut down, not retry
				return backoff.Permanent(err)
			}
			if err != nil {
				logger.Error().Err(err).Msg("scan pass failed, backing off")
			}
			return err
		}, policy)
	}

	if err := scan(); err != nil {
		return err
	}

	var debounce *time.Timer
	trigger := make(chan struct{}, 1)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// new directories join the watch set
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchTree(watcher, event.Name); err != nil {
						logger.Debug().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
					}
				}
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(cfg.Watch.Debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watcher error")

		case <-trigger:
			logger.Info().Msg("changes detected, rescanning")
			if err := scan(); err != nil {
				return err
			}
		}
	}
}

// watchTree adds a directory and all its subdirectories to the watcher
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
