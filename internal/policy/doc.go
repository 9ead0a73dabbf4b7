// Package policy screens a user-supplied nginx configuration tree for
// directives that would let the tree escape its sandbox: temp paths,
// logs outside /data, includes of arbitrary files and Lua init hooks.
//
// Screening is line oriented. Nothing here parses nginx syntax.
package policy
