// Package appfs exposes embedded application files.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
