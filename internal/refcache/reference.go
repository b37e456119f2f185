package refcache

import (
	"context"
	"time"

	"github.com/deepnetworkgmbh/joseki-sub001/internal/model"
)

type CheckCache = Cache[model.Check]

type CVECache = Cache[model.CVE]

// TTLs configures the refresh age of reference rows.
type TTLs struct {
	PolarisCheck time.Duration
	AzskCheck    time.Duration
	DefaultCheck time.Duration
	CVE          time.Duration
}

func NewCheckCache(store Store[model.Check], ttls TTLs) *CheckCache {
	return New(store, Options{
		Name: "check",
		TTL: PrefixTTL(ttls.DefaultCheck, map[string]time.Duration{
			string(model.ScannerPolaris) + ".": ttls.PolarisCheck,
			string(model.ScannerAzsk) + ".":    ttls.AzskCheck,
		}),
	})
}

func NewCVECache(store Store[model.CVE], ttls TTLs) *CVECache {
	return New(store, Options{Name: "cve", TTL: FixedTTL(ttls.CVE)})
}

// ResolveImageScanCheck returns the id of the predefined container image scan check.
func ResolveImageScanCheck(ctx context.Context, checks *CheckCache) (int64, error) {
	return checks.Resolve(ctx, model.ImageScanCheck.ID, func() (model.Check, error) {
		return model.ImageScanCheck, nil
	})
}
