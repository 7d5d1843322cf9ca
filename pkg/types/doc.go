/*
Package types defines the shared data model and the plugin module contracts
for knbase.

The data model is content-addressed: a Resource is a named object inside a
KnowledgeBase, identified by (base, external id), while all ingestion work
is keyed by the resource's content hash. Documents are the derived
artifacts preprocessing modules produce from one unique content; index
modules maintain search indexes over documents.

Three polymorphic module roles plug into the core:

  - ResourceModule: yields the resource event stream for a base and routes
    content types to preprocessing modules
  - PreprocessingModule: turns one unique content into derived documents
    inside an exclusively-owned workspace directory
  - IndexModule: adds and removes single documents from a search index

Every module carries a stable string ID; the storage layer binds it to a
persisted integer id so foreign keys survive restarts.
*/
package types
