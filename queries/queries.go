// Package queries embeds the built-in per-language query modules.
package queries

import "embed"

// FS holds one <language>.risor module per supported language.
//
//go:embed *.risor
var FS embed.FS
