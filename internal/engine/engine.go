// Package engine wires the version store, blob archive, anchor engine, and
// fusion engine behind one façade. Every mutation goes through the action
// ledger, so the full history of the evidence base can be replayed.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/avolkau/evidentia/internal/anchor"
	"github.com/avolkau/evidentia/internal/blob"
	"github.com/avolkau/evidentia/internal/fuse"
	"github.com/avolkau/evidentia/internal/model"
	"github.com/avolkau/evidentia/internal/store"
)

// Engine is the single entry point for all evidence operations.
type Engine struct {
	cfg     *model.Config
	store   *store.Store
	blobs   *blob.Store
	anchors *anchor.Engine
	fuser   *fuse.Fuser
	log     *slog.Logger
}

// New opens the store and assembles the engine.
func New(cfg *model.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	st, err := store.Open(cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &Engine{
		cfg:     cfg,
		store:   st,
		blobs:   blob.NewStore(cfg.Blob),
		anchors: anchor.New(cfg.Anchor, log),
		fuser:   fuse.New(cfg.Fusion, log),
		log:     log,
	}, nil
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Actions returns the full ledger, oldest first.
func (e *Engine) Actions() ([]model.Action, error) {
	return e.store.Actions()
}

// Replay returns one recorded action by UID.
func (e *Engine) Replay(actionUID string) (model.Action, error) {
	return e.store.Replay(actionUID)
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
