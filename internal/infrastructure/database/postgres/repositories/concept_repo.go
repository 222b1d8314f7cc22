package repositories

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// DBTX is the subset of *pgxpool.Pool and pgx.Tx the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Concept is one dictionary row.
type Concept struct {
	ID            string   `json:"concept_id"`
	PreferredName string   `json:"preferred_name"`
	TypeIDs       []string `json:"type_ids"`
	Synonyms      []string `json:"synonyms,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// ConceptRepository stores concept metadata in PostgreSQL. It answers
// restoration lookups and feeds names to the dictionary recognizer.
type ConceptRepository struct {
	db     DBTX
	logger logging.Logger
}

var _ validation.ConceptLookup = (*ConceptRepository)(nil)

func NewConceptRepository(db DBTX, log logging.Logger) *ConceptRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ConceptRepository{db: db, logger: log.Named("concept_repo")}
}

const (
	selectConceptSQL = `SELECT preferred_name, type_ids FROM concepts WHERE concept_id = $1`

	listConceptsSQL = `SELECT concept_id, preferred_name, type_ids, synonyms, source
		FROM concepts ORDER BY concept_id`

	// An existing preferred name wins over one derived from rule keywords.
	upsertConceptSQL = `INSERT INTO concepts (concept_id, preferred_name, type_ids, synonyms, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (concept_id) DO UPDATE SET
			preferred_name = CASE WHEN concepts.preferred_name = '' THEN EXCLUDED.preferred_name
				ELSE concepts.preferred_name END,
			type_ids = CASE WHEN cardinality(EXCLUDED.type_ids) > 0 THEN EXCLUDED.type_ids
				ELSE concepts.type_ids END,
			synonyms = EXCLUDED.synonyms,
			source = EXCLUDED.source,
			updated_at = now()`

	deleteConceptSQL = `DELETE FROM concepts WHERE concept_id = $1`
	countConceptsSQL = `SELECT COUNT(*) FROM concepts`
)

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Lookup returns the metadata of one concept. Unknown ids report found=false.
func (r *ConceptRepository) Lookup(ctx context.Context, conceptID string) (validation.ConceptInfo, bool, error) {
	var info validation.ConceptInfo
	err := r.db.QueryRow(ctx, selectConceptSQL, normalizeID(conceptID)).Scan(&info.PreferredName, &info.TypeIDs)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return validation.ConceptInfo{}, false, nil
		}
		return validation.ConceptInfo{}, false, errors.Wrapf(err, errors.ErrCodeDatabaseError, "lookup concept %s", conceptID)
	}
	if info.TypeIDs == nil {
		info.TypeIDs = []string{}
	}
	return info, true, nil
}

// List returns every concept ordered by id.
func (r *ConceptRepository) List(ctx context.Context) ([]Concept, error) {
	rows, err := r.db.Query(ctx, listConceptsSQL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list concepts")
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		var c Concept
		if err := rows.Scan(&c.ID, &c.PreferredName, &c.TypeIDs, &c.Synonyms, &c.Source); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "scan concept")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "iterate concepts")
	}
	return out, nil
}

// Upsert writes concepts in one batch and returns how many rows changed.
func (r *ConceptRepository) Upsert(ctx context.Context, concepts []Concept) (int, error) {
	if len(concepts) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	queued := 0
	for _, c := range concepts {
		id := normalizeID(c.ID)
		if id == "" {
			r.logger.Warn("skipping concept without id", logging.String("name", c.PreferredName))
			continue
		}
		typeIDs := c.TypeIDs
		if typeIDs == nil {
			typeIDs = []string{}
		}
		synonyms := c.Synonyms
		if synonyms == nil {
			synonyms = []string{}
		}
		batch.Queue(upsertConceptSQL, id, c.PreferredName, typeIDs, synonyms, c.Source)
		queued++
	}
	if queued == 0 {
		return 0, nil
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	changed := 0
	for i := 0; i < queued; i++ {
		tag, err := br.Exec()
		if err != nil {
			return changed, errors.Wrap(err, errors.ErrCodeDatabaseError, "upsert concepts")
		}
		changed += int(tag.RowsAffected())
	}
	r.logger.Debug("upserted concepts", logging.Int("count", changed))
	return changed, nil
}

// Delete removes one concept. Deleting an unknown id is a not-found error.
func (r *ConceptRepository) Delete(ctx context.Context, conceptID string) error {
	tag, err := r.db.Exec(ctx, deleteConceptSQL, normalizeID(conceptID))
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeDatabaseError, "delete concept %s", conceptID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.ErrCodeConceptNotFound, "concept %s not found", conceptID)
	}
	return nil
}

func (r *ConceptRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, countConceptsSQL).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "count concepts")
	}
	return n, nil
}

// ConceptsFromRules derives dictionary rows from a rule store. The rule
// keyword becomes the preferred name and keyword hints become synonyms.
func ConceptsFromRules(s *rules.Store) []Concept {
	if s == nil {
		return nil
	}
	rs := s.Rules()
	out := make([]Concept, 0, len(rs))
	for _, rule := range rs {
		out = append(out, Concept{
			ID:            rule.ConceptID,
			PreferredName: rule.Keyword,
			Synonyms:      append([]string(nil), rule.Terms...),
			Source:        "rules",
		})
	}
	return out
}

// SeedFromRules upserts one concept per rule.
func (r *ConceptRepository) SeedFromRules(ctx context.Context, s *rules.Store) (int, error) {
	n, err := r.Upsert(ctx, ConceptsFromRules(s))
	if err != nil {
		return n, err
	}
	r.logger.Info("seeded concepts from rules", logging.Int("concepts", n))
	return n, nil
}
