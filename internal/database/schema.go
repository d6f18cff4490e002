package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Documents table: one row per document, keyed by its full slash-separated path
CREATE TABLE IF NOT EXISTS documents (
    path TEXT PRIMARY KEY,

    -- Parent collection path and the last path segment
    collection TEXT NOT NULL,
    doc_id TEXT NOT NULL,

    -- Document body (JSON object)
    data TEXT NOT NULL,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Collection listing is ordered by document ID
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection, doc_id);
`
