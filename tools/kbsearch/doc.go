// Package kbsearch provides the kb_search tool: a semantic search over the
// knowledge base, made of an embedding call followed by a vector index query.
package kbsearch
