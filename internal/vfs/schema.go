package vfs

// Schema statements are written to the SQL subset shared by PostgreSQL and
// SQLite: TEXT identifiers generated in Go, timestamps bound from Go, partial
// unique indexes for sibling-name uniqueness.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS vfs_nodes (
		id         TEXT PRIMARY KEY,
		parent_id  TEXT REFERENCES vfs_nodes(id),
		node_name  TEXT NOT NULL,
		vfs_file   TEXT,
		hide       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP
	)`,

	// Sibling names are unique under a parent; the single root is unique by
	// name among parentless nodes.
	`CREATE UNIQUE INDEX IF NOT EXISTS vfs_nodes_sibling_name
		ON vfs_nodes (parent_id, node_name) WHERE parent_id IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS vfs_nodes_root_name
		ON vfs_nodes (node_name) WHERE parent_id IS NULL`,

	`CREATE TABLE IF NOT EXISTS node_closures (
		ancestor   TEXT NOT NULL REFERENCES vfs_nodes(id),
		descendant TEXT NOT NULL REFERENCES vfs_nodes(id),
		depth      INT NOT NULL,
		PRIMARY KEY (ancestor, descendant)
	)`,
	`CREATE INDEX IF NOT EXISTS node_closures_descendant
		ON node_closures (descendant)`,

	`CREATE TABLE IF NOT EXISTS vfs_files (
		id         TEXT PRIMARY KEY,
		file_path  TEXT NOT NULL,
		file_size  BIGINT NOT NULL,
		file_type  TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS video_files (
		id             TEXT PRIMARY KEY REFERENCES vfs_files(id),
		duration       DOUBLE PRECISION,
		width          INT,
		height         INT,
		r_frame_rate   TEXT,
		avg_frame_rate TEXT,
		video_codec    TEXT,
		audio_codec    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS audio_files (
		id            TEXT PRIMARY KEY REFERENCES vfs_files(id),
		duration      DOUBLE PRECISION,
		codec_name    TEXT,
		bitrate       INT,
		sample_format TEXT,
		sample_rate   INT,
		channels      INT
	)`,

	`CREATE TABLE IF NOT EXISTS image_files (
		id         TEXT PRIMARY KEY REFERENCES vfs_files(id),
		width      INT,
		height     INT,
		codec_name TEXT,
		pix_fmt    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS vfs_thumbs (
		id        TEXT PRIMARY KEY REFERENCES vfs_files(id),
		thumbnail TEXT NOT NULL REFERENCES vfs_files(id)
	)`,
}
