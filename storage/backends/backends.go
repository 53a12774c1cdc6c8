// Package backends registers every built in storage driver.
//
// Import it for its side effects when an application should pick its driver
// from configuration alone:
//
//	import _ "github.com/drblury/chassis/storage/backends"
package backends

import (
	_ "github.com/drblury/chassis/storage/memory"
	_ "github.com/drblury/chassis/storage/postgres"
	_ "github.com/drblury/chassis/storage/sqlite"
)
