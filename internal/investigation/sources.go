package investigation

import (
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const profileCacheTTL = 5 * time.Minute

// StoreSources serves the four evidence lookups from the repository,
// the cache, and seeded customer context. Customer profiles go through
// the cache to spare the slow backing store; transaction pattern
// history is derived from persisted transactions on demand. Login and
// device records are fed in by ingestion adapters.
type StoreSources struct {
	repo  domain.Repository
	cache domain.Cache

	patternWindow time.Duration

	mu       sync.RWMutex
	profiles map[string]*domain.CustomerProfile
	logins   map[string][]domain.LoginRecord
	devices  map[string][]domain.DeviceFingerprint
}

// NewStoreSources creates an evidence provider. repo and cache may be
// nil; lookups with no backing data fail with ErrSourceUnavailable.
func NewStoreSources(repo domain.Repository, cache domain.Cache, patternWindow time.Duration) *StoreSources {
	if patternWindow <= 0 {
		patternWindow = 30 * 24 * time.Hour
	}
	return &StoreSources{
		repo:          repo,
		cache:         cache,
		patternWindow: patternWindow,
		profiles:      make(map[string]*domain.CustomerProfile),
		logins:        make(map[string][]domain.LoginRecord),
		devices:       make(map[string][]domain.DeviceFingerprint),
	}
}

// SeedProfile registers a customer profile.
func (s *StoreSources) SeedProfile(tenantID string, profile *domain.CustomerProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[sourceKey(tenantID, profile.CustomerID)] = profile
}

// SeedLogins registers authentication history for a customer.
func (s *StoreSources) SeedLogins(tenantID, customerID string, records []domain.LoginRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[sourceKey(tenantID, customerID)] = records
}

// SeedDevices registers device fingerprints for a customer.
func (s *StoreSources) SeedDevices(tenantID, customerID string, devices []domain.DeviceFingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[sourceKey(tenantID, customerID)] = devices
}

// CustomerProfile looks up a profile, cache first.
func (s *StoreSources) CustomerProfile(ctx context.Context, tenantID, customerID string) (*domain.CustomerProfile, error) {
	if s.cache != nil {
		if profile, err := s.cache.GetProfile(ctx, tenantID, customerID); err == nil && profile != nil {
			return profile, nil
		}
	}

	s.mu.RLock()
	profile, ok := s.profiles[sourceKey(tenantID, customerID)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSourceUnavailable
	}

	if s.cache != nil {
		// Best effort; a cold cache just means another store hit next time.
		_ = s.cache.SetProfile(ctx, tenantID, customerID, profile, profileCacheTTL)
	}

	return profile, nil
}

// LoginHistory returns the customer's authentication events.
func (s *StoreSources) LoginHistory(ctx context.Context, tenantID, customerID string) ([]domain.LoginRecord, error) {
	s.mu.RLock()
	records, ok := s.logins[sourceKey(tenantID, customerID)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSourceUnavailable
	}
	return records, nil
}

// DeviceFingerprints returns the customer's known devices.
func (s *StoreSources) DeviceFingerprints(ctx context.Context, tenantID, customerID string) ([]domain.DeviceFingerprint, error) {
	s.mu.RLock()
	devices, ok := s.devices[sourceKey(tenantID, customerID)]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrSourceUnavailable
	}
	return devices, nil
}

// PatternHistory derives behavioural aggregates from the transactions
// persisted inside the lookback window. The transaction named by
// excludeTxID is dropped: the pipeline persists it before the stages
// run, and counting it would make every transfer look like precedent
// for itself.
func (s *StoreSources) PatternHistory(ctx context.Context, tenantID, customerID, excludeTxID string) (*domain.PatternHistory, error) {
	if s.repo == nil {
		return nil, domain.ErrSourceUnavailable
	}

	since := time.Now().Add(-s.patternWindow)
	txs, err := s.repo.GetTransactionsByCustomer(ctx, tenantID, customerID, since)
	if err != nil {
		return nil, domain.ErrSourceUnavailable
	}

	history := &domain.PatternHistory{CustomerID: customerID}
	seenDest := make(map[string]bool)
	seenBene := make(map[string]bool)
	prior := 0
	for _, tx := range txs {
		if tx.ID == excludeTxID {
			continue
		}
		prior++
		history.RecentAmounts = append(history.RecentAmounts, tx.Amount)
		if tx.DestinationCountry != "" && !seenDest[tx.DestinationCountry] {
			seenDest[tx.DestinationCountry] = true
			history.Destinations = append(history.Destinations, tx.DestinationCountry)
		}
		if tx.Beneficiary != "" && !seenBene[tx.Beneficiary] {
			seenBene[tx.Beneficiary] = true
			history.Beneficiaries = append(history.Beneficiaries, tx.Beneficiary)
		}
	}

	days := s.patternWindow.Hours() / 24
	if days > 0 {
		history.DailyAverage = float64(prior) / days
	}

	return history, nil
}

func sourceKey(tenantID, customerID string) string {
	return tenantID + "/" + customerID
}
