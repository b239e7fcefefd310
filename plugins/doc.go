// Package plugins hosts the built-in module plugin subpackages. It
// intentionally contains no production runtime code itself; this file
// exists so the architectural guard test alongside it has a package to
// live in.
//
// Plugins speak to the core exclusively through labos/pkg/moduleapi.
// They must not import labos/internal/... or labos/pkg/domain; the
// guard test enforces both boundaries.
package plugins
