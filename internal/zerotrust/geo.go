package zerotrust

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoResolver enriches a request context with country and city from a
// MaxMind database. A nil resolver is valid and resolves nothing, so
// deployments without a database degrade to IP-only location scoring.
type GeoResolver struct {
	db *geoip2.Reader
}

// NewGeoResolver opens the GeoIP2 City database at path.
func NewGeoResolver(path string) (*GeoResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	return &GeoResolver{db: db}, nil
}

// Resolve fills in Country and City for the request's source IP when
// the database knows it. Private and unparseable addresses are left
// untouched.
func (g *GeoResolver) Resolve(reqCtx *RequestContext) {
	if g == nil || g.db == nil || reqCtx.SourceIP == "" {
		return
	}
	ip := net.ParseIP(reqCtx.SourceIP)
	if ip == nil || ip.IsPrivate() || ip.IsLoopback() {
		return
	}
	record, err := g.db.City(ip)
	if err != nil {
		return
	}
	if reqCtx.Country == "" {
		reqCtx.Country = record.Country.IsoCode
	}
	if reqCtx.City == "" {
		if name, ok := record.City.Names["en"]; ok {
			reqCtx.City = name
		}
	}
}

// Close releases the database.
func (g *GeoResolver) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}
