package geolite

import (
	"net"
	"os"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

// Resolver answers country lookups from a local GeoLite2-Country
// database. A Resolver with no database loaded is valid and resolves
// everything to the empty string, so callers never need a nil check.
type Resolver struct {
	reader *geoip2.Reader
}

// Open loads the mmdb file at path. An empty path or a missing file
// yields a disabled resolver rather than an error; country enrichment
// is optional.
func Open(path string) *Resolver {
	if path == "" {
		return &Resolver{}
	}

	if _, err := os.Stat(path); err != nil {
		log.Warn("GeoLite database not found, country enrichment disabled", "path", path)
		return &Resolver{}
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		log.Warn("Failed to open GeoLite database, country enrichment disabled", "path", path, "error", err)
		return &Resolver{}
	}

	log.Info("GeoLite database loaded", "path", path)
	return &Resolver{reader: reader}
}

// Country returns the English country name for ip, empty when the
// resolver is disabled or the address is unknown.
func (r *Resolver) Country(ip string) string {
	if r == nil || r.reader == nil {
		return ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	record, err := r.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.Names["en"]
}

func (r *Resolver) Close() {
	if r != nil && r.reader != nil {
		_ = r.reader.Close()
	}
}
