// Package reputation fetches the trust inputs that drive release decisions
// from the external reputation service.
package reputation

import (
	"context"
	"sync"

	"github.com/punchamoorthee/tradeguard/internal/policy"
)

// Provider returns trust signals for a buyer/seller pair.
type Provider interface {
	Signals(ctx context.Context, buyerID, sellerID string) (policy.TrustSignals, error)
}

// Static serves signals from memory. It backs local runs without a
// reputation service, and tests.
type Static struct {
	mu       sync.RWMutex
	fallback policy.TrustSignals
	buyers   map[string]buyerSignals
	sellers  map[string]float64
}

type buyerSignals struct {
	trust       float64
	hasDisputes bool
}

func NewStatic(fallback policy.TrustSignals) *Static {
	return &Static{
		fallback: fallback,
		buyers:   make(map[string]buyerSignals),
		sellers:  make(map[string]float64),
	}
}

func (s *Static) SetBuyer(buyerID string, trust float64, hasDisputes bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buyers[buyerID] = buyerSignals{trust: trust, hasDisputes: hasDisputes}
}

func (s *Static) SetSeller(sellerID string, reliability float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[sellerID] = reliability
}

func (s *Static) Signals(_ context.Context, buyerID, sellerID string) (policy.TrustSignals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.fallback
	if b, ok := s.buyers[buyerID]; ok {
		out.BuyerTrustScore = b.trust
		out.HasDisputes = b.hasDisputes
	}
	if r, ok := s.sellers[sellerID]; ok {
		out.SellerReliability = r
	}
	return out, nil
}
