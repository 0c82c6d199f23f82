// Package proposal persists decision proposals and runs the server-side
// approval workflow. Stored proposals are the sole source of truth: approval
// never trusts caller-supplied action data.
package proposal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vantage-io/vantage/internal/decision"
	vanotel "github.com/vantage-io/vantage/internal/otel"
)

var tracer = vanotel.Tracer("proposal")

var (
	ErrProposalNotFound = errors.New("decision proposal not found")
	ErrActionNotFound   = errors.New("action ref not found in any stored proposal")
	ErrIntentNotFound   = errors.New("action intent not found")
)

// Store is the SQLite persistence layer for proposals, intents, and
// rejections.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the proposal store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening proposal database: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wraps an existing connection, creating the schema if needed.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS proposals (
			decision_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			decision_type TEXT NOT NULL,
			proposal_fingerprint TEXT NOT NULL,
			proposal_json TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_proposals_account ON proposals(tenant_id, account_id);

		CREATE TABLE IF NOT EXISTS proposal_actions (
			action_ref TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL REFERENCES proposals(decision_id)
		);

		CREATE TABLE IF NOT EXISTS action_intents (
			action_intent_id TEXT PRIMARY KEY,
			action_ref TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			supersedes_action_intent_id TEXT,
			intent_json TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_intents_action ON action_intents(action_ref);

		CREATE TABLE IF NOT EXISTS action_rejections (
			action_ref TEXT NOT NULL,
			decision_id TEXT NOT NULL,
			rejected_by TEXT NOT NULL,
			rejection_reason TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("creating proposal schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProposal persists an immutable proposal and indexes its action refs.
func (s *Store) SaveProposal(ctx context.Context, p *decision.Proposal) error {
	ctx, span := tracer.Start(ctx, "proposal.save",
		trace.WithAttributes(
			attribute.String("decision_id", p.DecisionID),
			attribute.String("tenant_id", p.TenantID),
		))
	defer span.End()

	proposalJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling proposal: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning proposal save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (decision_id, tenant_id, account_id, decision_type, proposal_fingerprint, proposal_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.DecisionID, p.TenantID, p.AccountID, string(p.DecisionType),
		p.ProposalFingerprint, string(proposalJSON), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting proposal: %w", err)
	}

	for _, a := range p.Actions {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO proposal_actions (action_ref, decision_id) VALUES (?, ?)`,
			a.ActionRef, p.DecisionID)
		if err != nil {
			return fmt.Errorf("indexing action ref %s: %w", a.ActionRef, err)
		}
	}

	return tx.Commit()
}

// GetProposal returns a proposal by decision ID.
func (s *Store) GetProposal(ctx context.Context, decisionID string) (*decision.Proposal, error) {
	var proposalJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT proposal_json FROM proposals WHERE decision_id = ?`, decisionID,
	).Scan(&proposalJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading proposal: %w", err)
	}

	var p decision.Proposal
	if err := json.Unmarshal([]byte(proposalJSON), &p); err != nil {
		return nil, fmt.Errorf("unmarshaling proposal: %w", err)
	}
	return &p, nil
}

// GetByActionRef locates the proposal that owns an action ref.
func (s *Store) GetByActionRef(ctx context.Context, actionRef string) (*decision.Proposal, error) {
	var decisionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_id FROM proposal_actions WHERE action_ref = ?`, actionRef,
	).Scan(&decisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving action ref: %w", err)
	}
	return s.GetProposal(ctx, decisionID)
}

// ListByAccount returns an account's proposals, newest first.
func (s *Store) ListByAccount(ctx context.Context, tenantID, accountID string) ([]*decision.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT proposal_json FROM proposals
		WHERE tenant_id = ? AND account_id = ?
		ORDER BY created_at DESC`,
		tenantID, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	defer rows.Close()

	var out []*decision.Proposal
	for rows.Next() {
		var proposalJSON string
		if err := rows.Scan(&proposalJSON); err != nil {
			return nil, err
		}
		var p decision.Proposal
		if err := json.Unmarshal([]byte(proposalJSON), &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SaveIntent persists an action intent.
func (s *Store) SaveIntent(ctx context.Context, tenantID, accountID string, intent *decision.ActionIntent, actionRef string, createdAt time.Time) error {
	intentJSON, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshaling intent: %w", err)
	}

	var supersedes interface{}
	if intent.SupersedesActionIntentID != "" {
		supersedes = intent.SupersedesActionIntentID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_intents (action_intent_id, action_ref, decision_id, tenant_id, account_id, supersedes_action_intent_id, intent_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ActionIntentID, actionRef, intent.OriginalDecisionID,
		tenantID, accountID, supersedes, string(intentJSON), createdAt)
	if err != nil {
		return fmt.Errorf("inserting intent: %w", err)
	}
	return nil
}

// GetIntent returns an intent by ID.
func (s *Store) GetIntent(ctx context.Context, actionIntentID string) (*decision.ActionIntent, string, string, error) {
	var intentJSON, tenantID, accountID string
	err := s.db.QueryRowContext(ctx,
		`SELECT intent_json, tenant_id, account_id FROM action_intents WHERE action_intent_id = ?`,
		actionIntentID,
	).Scan(&intentJSON, &tenantID, &accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", "", ErrIntentNotFound
	}
	if err != nil {
		return nil, "", "", fmt.Errorf("reading intent: %w", err)
	}

	var intent decision.ActionIntent
	if err := json.Unmarshal([]byte(intentJSON), &intent); err != nil {
		return nil, "", "", fmt.Errorf("unmarshaling intent: %w", err)
	}
	return &intent, tenantID, accountID, nil
}

// SaveRejection records a rejection. No intent is created.
func (s *Store) SaveRejection(ctx context.Context, actionRef, decisionID, rejectedBy, reason string, createdAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_rejections (action_ref, decision_id, rejected_by, rejection_reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		actionRef, decisionID, rejectedBy, reason, createdAt)
	if err != nil {
		return fmt.Errorf("inserting rejection: %w", err)
	}
	return nil
}
