// Package deck loads deck and card documents.
//
// A document is optional YAML front matter fenced by "---" lines followed by
// a markdown body. The body may embed other documents with image-link syntax,
// ![label](path), which the Loader resolves recursively as cards. Two
// targets are synthetic markers instead of files: InitMarker and
// RespondMarker expand into fixed prompt text and set the InitHint and
// RespondEnabled flags.
//
// Load flattens the embed tree depth-first, merges actions (deck wins) and
// schema fragments (structural union), and resolves handler paths. Embed
// cycles fail with a CycleError naming the full chain. Action decks, which
// may reference each other cyclically, are cached in an Arena.
package deck
