// Package catalog loads tool definitions from YAML catalogue files and
// builds the search index served by the CLI and HTTP transport.
//
// Catalogue discovery follows first-match semantics: an explicit path, then
// ./petalstat.yaml, then ~/.petalstat/catalog.yaml, and finally the default
// catalogue embedded in the binary.
package catalog
