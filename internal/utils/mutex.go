package utils

import "sync"

var gdalMu sync.Mutex

// WithGDAL serialises access to GDAL dataset handles, which are not safe for
// concurrent use across goroutines.
func WithGDAL(fn func() error) error {
	gdalMu.Lock()
	defer gdalMu.Unlock()
	return fn()
}
