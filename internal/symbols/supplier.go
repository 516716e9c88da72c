// Package symbols resolves symbol names and ids to their metadata. The
// catalogue is fetched lazily from the server and cached for the process
// lifetime; symbol metadata never changes within a session.
package symbols

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/yegor-stuba/Lingonberry-Trade/internal/model"
	"github.com/yegor-stuba/Lingonberry-Trade/internal/wire"
)

// Requester issues correlated protocol requests. Implemented by the session
// manager.
type Requester interface {
	Request(ctx context.Context, payloadType int32, payload any) (wire.Frame, error)
	AccountID() int64
}

// Supplier is the cached symbol metadata source.
type Supplier struct {
	req    Requester
	logger *slog.Logger

	fetchMu sync.Mutex // Single-flights the catalogue fetch

	mu     sync.Mutex
	byID   map[int64]model.SymbolMeta
	byName map[string]int64
	loaded bool
}

// NewSupplier creates a supplier backed by the given requester.
func NewSupplier(req Requester, logger *slog.Logger) *Supplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supplier{
		req:    req,
		logger: logger,
		byID:   make(map[int64]model.SymbolMeta),
		byName: make(map[string]int64),
	}
}

// Meta returns the metadata for a symbol id, fetching the catalogue on first
// use.
func (s *Supplier) Meta(ctx context.Context, symbolID int64) (model.SymbolMeta, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return model.SymbolMeta{}, err
	}

	s.mu.Lock()
	meta, ok := s.byID[symbolID]
	s.mu.Unlock()

	if !ok {
		return model.SymbolMeta{}, fmt.Errorf("unknown symbol id %d", symbolID)
	}
	return meta, nil
}

// Cached returns metadata already in the cache without touching the wire.
// Used on the dispatch path, which must never block on a request.
func (s *Supplier) Cached(symbolID int64) (model.SymbolMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.byID[symbolID]
	return meta, ok
}

// Resolve maps a symbol name (e.g. "EURUSD") to its broker id. Suffixes
// after a dot ("EURUSD.P") are ignored, matching broker catalogue naming.
func (s *Supplier) Resolve(ctx context.Context, name string) (int64, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}

	normalized := strings.ToUpper(strings.SplitN(name, ".", 2)[0])

	s.mu.Lock()
	id, ok := s.byName[normalized]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("unknown symbol %q", name)
	}
	return id, nil
}

// ensureLoaded fetches the symbol catalogue once. fetchMu serializes
// concurrent first callers so exactly one symbols-list request goes out;
// late arrivals find the catalogue loaded and return without a wire call.
func (s *Supplier) ensureLoaded(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded {
		return nil
	}

	resp, err := s.req.Request(ctx, wire.PTSymbolsListReq, wire.SymbolsListReq{
		AccountID: s.req.AccountID(),
	})
	if err != nil {
		return fmt.Errorf("fetch symbol list: %w", err)
	}

	var list wire.SymbolsListRes
	if err := resp.Decode(&list); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range list.Symbols {
		s.byID[sym.SymbolID] = model.SymbolMeta{
			ID:          sym.SymbolID,
			Name:        sym.SymbolName,
			Digits:      sym.Digits,
			PipPosition: sym.PipPosition,
		}
		s.byName[strings.ToUpper(sym.SymbolName)] = sym.SymbolID
	}
	s.loaded = true

	s.logger.Debug("symbol catalogue loaded", "count", len(list.Symbols))
	return nil
}
