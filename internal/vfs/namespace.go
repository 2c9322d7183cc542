package vfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediatree/mediatree/internal/logging"
	"github.com/mediatree/mediatree/internal/metrics"
)

// rootName is the reserved (case-insensitive) lookup for the single
// parentless node.
const rootName = "root"

// Node is one namespace entry. A Node without a file is a folder.
type Node struct {
	ID        uuid.UUID
	ParentID  *uuid.UUID
	Name      string
	FileID    *uuid.UUID
	Hide      bool
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// NodeSummary is the listing shape exposed to the web-API layer.
type NodeSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Type      string    `json:"type"` // folder, video, audio, image, text
	Thumbnail string    `json:"thumbnail,omitempty"`
}

// Target addresses a namespace node either directly or by path.
type Target struct {
	Node *uuid.UUID
	Path string
}

// NodeTarget addresses a node by ID.
func NodeTarget(id uuid.UUID) Target { return Target{Node: &id} }

// PathTarget addresses a node by path.
func PathTarget(path string) Target { return Target{Path: path} }

// splitPath normalizes a VFS path into traversal segments. The leading
// "root" segment (case-insensitive) is skipped, and the single encoded
// space "%20" is unescaped per segment. Broader percent-decoding is
// deliberately not performed.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(segments) == 0 && strings.EqualFold(part, rootName) {
			continue
		}
		segments = append(segments, strings.ReplaceAll(part, "%20", " "))
	}
	return segments
}

// validNodeName rejects names that cannot be stored: empty, path-like, or
// the reserved root lookup.
func validNodeName(name string) bool {
	return name != "" && !strings.Contains(name, "/") && !strings.EqualFold(name, rootName)
}

// EnsureRoot lazily creates the root node, returning the same identifier on
// every call.
func (s *Store) EnsureRoot(ctx context.Context) (uuid.UUID, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("ensure_root", time.Since(start)) }()

	return ensureRoot(ctx, s.db)
}

func ensureRoot(ctx context.Context, q querier) (uuid.UUID, error) {
	id, err := scanID(q.QueryRowContext(ctx,
		`SELECT id FROM vfs_nodes WHERE parent_id IS NULL AND node_name = $1`, rootName))
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("query root: %w", err)
	}

	fresh := uuid.New()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO vfs_nodes (id, node_name, hide, created_at)
		 VALUES ($1, $2, FALSE, $3)
		 ON CONFLICT (node_name) WHERE parent_id IS NULL DO NOTHING`,
		fresh, rootName, time.Now().UTC()); err != nil {
		return uuid.Nil, fmt.Errorf("insert root: %w", err)
	}

	// A racing caller may have won the insert; the partial index makes the
	// re-read canonical either way.
	id, err = scanID(q.QueryRowContext(ctx,
		`SELECT id FROM vfs_nodes WHERE parent_id IS NULL AND node_name = $1`, rootName))
	if err != nil {
		return uuid.Nil, fmt.Errorf("reread root: %w", err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO node_closures (ancestor, descendant, depth)
		 VALUES ($1, $1, 0)
		 ON CONFLICT DO NOTHING`, id); err != nil {
		return uuid.Nil, fmt.Errorf("root closure: %w", err)
	}
	return id, nil
}

func scanID(row *sql.Row) (uuid.UUID, error) {
	var id uuid.UUID
	err := row.Scan(&id)
	return id, err
}

// getChild looks up a node by name under a parent.
func getChild(ctx context.Context, q querier, parentID uuid.UUID, name string) (uuid.UUID, error) {
	id, err := scanID(q.QueryRowContext(ctx,
		`SELECT id FROM vfs_nodes WHERE parent_id = $1 AND node_name = $2`,
		parentID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("query child %q: %w", name, err)
	}
	return id, nil
}

// createChild gets or creates a node under parentID. Concurrent callers
// racing on the same (parent, name) converge on one row: the loser's insert
// hits the sibling-name index and falls back to the winner's row.
func createChild(ctx context.Context, q querier, parentID uuid.UUID, name string, hide bool) (uuid.UUID, error) {
	id, err := getChild(ctx, q, parentID, name)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return uuid.Nil, err
	}

	fresh := uuid.New()
	res, err := q.ExecContext(ctx,
		`INSERT INTO vfs_nodes (id, parent_id, node_name, hide, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (parent_id, node_name) WHERE parent_id IS NOT NULL DO NOTHING`,
		fresh, parentID, name, hide, time.Now().UTC())
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert node %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Lost the race; the sibling already exists.
		return getChild(ctx, q, parentID, name)
	}

	if err := rebuildClosure(ctx, q, fresh, &parentID); err != nil {
		return uuid.Nil, err
	}

	metrics.RecordNodeCreated()
	logging.Debug("created vfs node",
		zap.String("name", name),
		zap.String("id", fresh.String()),
		zap.String("parent", parentID.String()))
	return fresh, nil
}

// rebuildClosure recomputes a single node's ancestor chain: drop everything
// but the self-entry, ensure the self-entry, then inherit the parent's
// ancestors one level deeper. Descendants are handled separately by Move.
func rebuildClosure(ctx context.Context, q querier, nodeID uuid.UUID, parentID *uuid.UUID) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM node_closures WHERE descendant = $1 AND ancestor <> $1`,
		nodeID); err != nil {
		return fmt.Errorf("clear closures: %w", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO node_closures (ancestor, descendant, depth)
		 VALUES ($1, $1, 0)
		 ON CONFLICT DO NOTHING`, nodeID); err != nil {
		return fmt.Errorf("self closure: %w", err)
	}
	if parentID == nil {
		return nil
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO node_closures (ancestor, descendant, depth)
		 SELECT ancestor, $1, depth + 1
		 FROM node_closures
		 WHERE descendant = $2`,
		nodeID, *parentID); err != nil {
		return fmt.Errorf("inherit closures: %w", err)
	}
	return nil
}

// walkPath traverses segments from the (lazily created) root, creating
// missing segments when ensure is set.
func walkPath(ctx context.Context, q querier, path string, ensure bool) (uuid.UUID, error) {
	current, err := ensureRoot(ctx, q)
	if err != nil {
		return uuid.Nil, err
	}
	for _, segment := range splitPath(path) {
		if ensure {
			current, err = createChild(ctx, q, current, segment, false)
		} else {
			current, err = getChild(ctx, q, current, segment)
		}
		if err != nil {
			return uuid.Nil, err
		}
	}
	return current, nil
}

// Resolve walks path segments against existing children only, failing with
// ErrNotFound on the first missing segment.
func (s *Store) Resolve(ctx context.Context, path string) (uuid.UUID, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("resolve_path", time.Since(start)) }()

	return walkPath(ctx, s.db, path, false)
}

// Ensure resolves path, creating any missing segment on the way. The whole
// walk runs in one transaction so a failed creation leaves no partial path.
func (s *Store) Ensure(ctx context.Context, path string) (uuid.UUID, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("ensure_path", time.Since(start)) }()

	var id uuid.UUID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = walkPath(ctx, tx, path, true)
		return err
	})
	return id, err
}

// PathOf reconstructs a node's path by walking parent pointers to the root.
// The root's own name is not part of the result.
func (s *Store) PathOf(ctx context.Context, id uuid.UUID) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("path_of", time.Since(start)) }()

	return pathOf(ctx, s.db, id)
}

func pathOf(ctx context.Context, q querier, id uuid.UUID) (string, error) {
	var parts []string
	current := id
	for {
		var name string
		var parent uuid.NullUUID
		err := q.QueryRowContext(ctx,
			`SELECT node_name, parent_id FROM vfs_nodes WHERE id = $1`,
			current).Scan(&name, &parent)
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: node %s", ErrNotFound, current)
		}
		if err != nil {
			return "", fmt.Errorf("query node %s: %w", current, err)
		}
		if !parent.Valid {
			break
		}
		parts = append([]string{name}, parts...)
		current = parent.UUID
	}
	return strings.Join(parts, "/"), nil
}

// resolveTarget maps a Target to a node ID. Path targets are ensured or
// resolved depending on ensure; nil targets and ID targets must exist.
func resolveTarget(ctx context.Context, q querier, target *Target, ensure bool) (uuid.UUID, error) {
	if target == nil {
		return ensureRoot(ctx, q)
	}
	if target.Node != nil {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM vfs_nodes WHERE id = $1)`,
			*target.Node).Scan(&exists); err != nil {
			return uuid.Nil, fmt.Errorf("query node: %w", err)
		}
		if !exists {
			return uuid.Nil, fmt.Errorf("%w: node %s", ErrNotFound, *target.Node)
		}
		return *target.Node, nil
	}
	return walkPath(ctx, q, target.Path, ensure)
}

// Move re-parents a node and recomputes closure rows for the node and its
// whole subtree, so descendants never keep stale ancestor entries.
func (s *Store) Move(ctx context.Context, nodeID uuid.UUID, target Target) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("move_node", time.Since(start)) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		parentID, err := resolveTarget(ctx, tx, &target, true)
		if err != nil {
			return err
		}

		var hasParent uuid.NullUUID
		err = tx.QueryRowContext(ctx,
			`SELECT parent_id FROM vfs_nodes WHERE id = $1`, nodeID).Scan(&hasParent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
		}
		if err != nil {
			return fmt.Errorf("query node: %w", err)
		}
		if !hasParent.Valid {
			return fmt.Errorf("%w: cannot move the root", ErrInvalidPath)
		}

		// The new parent must not be inside the moved subtree.
		var cycle bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(
				SELECT 1 FROM node_closures WHERE ancestor = $1 AND descendant = $2
			)`, nodeID, parentID).Scan(&cycle); err != nil {
			return fmt.Errorf("cycle check: %w", err)
		}
		if cycle {
			return fmt.Errorf("%w: target is inside the moved subtree", ErrInvalidPath)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE vfs_nodes SET parent_id = $1, updated_at = $2 WHERE id = $3`,
			parentID, time.Now().UTC(), nodeID); err != nil {
			return fmt.Errorf("update parent: %w", err)
		}

		// Detach the subtree from its old ancestors...
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM node_closures
			 WHERE descendant IN (SELECT descendant FROM node_closures WHERE ancestor = $1)
			   AND ancestor NOT IN (SELECT descendant FROM node_closures WHERE ancestor = $1)`,
			nodeID); err != nil {
			return fmt.Errorf("detach subtree: %w", err)
		}

		// ...and attach every subtree node to every ancestor of the new parent.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO node_closures (ancestor, descendant, depth)
			 SELECT a.ancestor, d.descendant, a.depth + d.depth + 1
			 FROM node_closures a, node_closures d
			 WHERE a.descendant = $1
			   AND d.ancestor = $2`,
			parentID, nodeID); err != nil {
			return fmt.Errorf("attach subtree: %w", err)
		}

		logging.Debug("moved vfs node",
			zap.String("node", nodeID.String()),
			zap.String("new_parent", parentID.String()))
		return nil
	})
}

// CreateNode creates a (folder) node under target and returns its summary.
func (s *Store) CreateNode(ctx context.Context, target Target, name string) (*NodeSummary, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_node", time.Since(start)) }()

	if !validNodeName(name) {
		return nil, fmt.Errorf("%w: bad node name %q", ErrInvalidPath, name)
	}

	var id uuid.UUID
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		parentID, err := resolveTarget(ctx, tx, &target, false)
		if err != nil {
			return err
		}
		id, err = createChild(ctx, tx, parentID, name, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.Summary(ctx, id)
}

// Summary builds the public view of one node.
func (s *Store) Summary(ctx context.Context, id uuid.UUID) (*NodeSummary, error) {
	var name string
	var fileType sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT n.node_name, f.file_type
		 FROM vfs_nodes n
		 LEFT JOIN vfs_files f ON f.id = n.vfs_file
		 WHERE n.id = $1`, id).Scan(&name, &fileType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}

	path, err := s.PathOf(ctx, id)
	if err != nil {
		return nil, err
	}

	summary := &NodeSummary{
		ID:   id,
		Name: name,
		Path: path,
		Type: "folder",
	}
	if fileType.Valid {
		summary.Type = fileType.String
	}
	if thumb, ok, err := s.GetThumbnail(ctx, id); err == nil && ok {
		summary.Thumbnail = thumb
	}
	return summary, nil
}

// ListChildren returns summaries for a node's children, filtering hidden
// entries unless showHidden is set.
func (s *Store) ListChildren(ctx context.Context, target Target, showHidden bool) ([]NodeSummary, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_children", time.Since(start)) }()

	parentID, err := resolveTarget(ctx, s.db, &target, false)
	if err != nil {
		return nil, err
	}
	parentPath, err := s.PathOf(ctx, parentID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT n.id, n.node_name, f.file_type
		 FROM vfs_nodes n
		 LEFT JOIN vfs_files f ON f.id = n.vfs_file
		 WHERE n.parent_id = $1 AND (n.hide = FALSE OR $2)
		 ORDER BY n.node_name`,
		parentID, showHidden)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var summaries []NodeSummary
	for rows.Next() {
		var id uuid.UUID
		var name string
		var fileType sql.NullString
		if err := rows.Scan(&id, &name, &fileType); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		summary := NodeSummary{ID: id, Name: name, Type: "folder"}
		if parentPath == "" {
			summary.Path = name
		} else {
			summary.Path = parentPath + "/" + name
		}
		if fileType.Valid {
			summary.Type = fileType.String
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for i := range summaries {
		if summaries[i].Type == "folder" {
			continue
		}
		if thumb, ok, err := s.GetThumbnail(ctx, summaries[i].ID); err == nil && ok {
			summaries[i].Thumbnail = thumb
		}
	}
	return summaries, nil
}
