package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"ipx/internal/catalog"
	id "ipx/pkg/domain"
)

// Instrument is a minted revenue-share instrument.
type Instrument struct {
	TokenID         uint64          `json:"token_id"`
	InstrumentID    id.InstrumentID `json:"instrument_id"`
	Owner           id.PrincipalID  `json:"owner"`
	SharePercentage int             `json:"share_percentage"`
	MetadataJSON    string          `json:"metadata_json"`
	CreatedAt       time.Time       `json:"created_at"`
}

// InMemoryLedger issues sequential token ids and indexes minted references so
// IsRegistered reflects prior mints. Safe for concurrent use.
type InMemoryLedger struct {
	mu          sync.RWMutex
	counter     uint64
	instruments map[uint64]Instrument
	byReference map[string]uint64
	byIdemKey   map[string]uint64
	now         func() time.Time
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{
		instruments: make(map[uint64]Instrument),
		byReference: make(map[string]uint64),
		byIdemKey:   make(map[string]uint64),
		now:         time.Now,
	}
}

func instrumentID(tokenID uint64) id.InstrumentID {
	return id.InstrumentID(fmt.Sprintf("ipx-%d", tokenID))
}

func (l *InMemoryLedger) Mint(_ context.Context, req MintRequest) (*Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	metadata, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode instrument metadata: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.IdempotencyKey != "" {
		if tokenID, ok := l.byIdemKey[req.IdempotencyKey]; ok {
			inst := l.instruments[tokenID]
			return &Receipt{InstrumentID: inst.InstrumentID, MintedAt: inst.CreatedAt}, nil
		}
	}

	key := ReferenceKey(req.RoutingKey, req.Reference)
	if _, taken := l.byReference[key]; taken {
		return nil, ErrAlreadyMinted
	}

	l.counter++
	inst := Instrument{
		TokenID:         l.counter,
		InstrumentID:    instrumentID(l.counter),
		Owner:           req.Owner,
		SharePercentage: req.RevenueSharePercent,
		MetadataJSON:    string(metadata),
		CreatedAt:       l.now(),
	}
	l.instruments[inst.TokenID] = inst
	l.byReference[key] = inst.TokenID
	if req.IdempotencyKey != "" {
		l.byIdemKey[req.IdempotencyKey] = inst.TokenID
	}
	return &Receipt{InstrumentID: inst.InstrumentID, MintedAt: inst.CreatedAt}, nil
}

func (l *InMemoryLedger) IsRegistered(_ context.Context, routingKey catalog.RoutingKey, reference string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byReference[ReferenceKey(routingKey, reference)]
	return ok, nil
}

// TotalSupply returns the number of minted instruments.
func (l *InMemoryLedger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.instruments))
}

// TokensOf returns the instruments owned by owner in mint order.
func (l *InMemoryLedger) TokensOf(owner id.PrincipalID) []Instrument {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Instrument
	for _, inst := range l.instruments {
		if inst.Owner == owner {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

// Health always succeeds for the in-memory ledger.
func (l *InMemoryLedger) Health(context.Context) error { return nil }
