package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	bq "github.com/dvloznov/doc-analyzer/internal/bigquery"
)

// Repository is an in-memory implementation of AnalysisRepository.
// It is safe for concurrent use. Data is lost on restart.
type Repository struct {
	mu           sync.RWMutex
	analyses     map[string]*bq.AnalysisRow
	transactions map[string][]*bq.AnalysisTransactionRow
}

// NewRepository creates an empty in-memory analysis repository.
func NewRepository() *Repository {
	return &Repository{
		analyses:     make(map[string]*bq.AnalysisRow),
		transactions: make(map[string][]*bq.AnalysisTransactionRow),
	}
}

// InsertAnalysis stores a copy of row.
func (r *Repository) InsertAnalysis(ctx context.Context, row *bq.AnalysisRow) error {
	if row == nil || row.AnalysisID == "" {
		return fmt.Errorf("InsertAnalysis: analysis ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.analyses[row.AnalysisID]; exists {
		return fmt.Errorf("InsertAnalysis: analysis %s already exists", row.AnalysisID)
	}
	r.analyses[row.AnalysisID] = copyAnalysis(row)
	return nil
}

// InsertAnalysisTransactions appends copies of rows to their analyses.
func (r *Repository) InsertAnalysisTransactions(ctx context.Context, rows []*bq.AnalysisTransactionRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		c := *row
		r.transactions[row.AnalysisID] = append(r.transactions[row.AnalysisID], &c)
	}
	return nil
}

// FindAnalysisByChecksum returns the newest analysis of userID with the given checksum, or nil.
func (r *Repository) FindAnalysisByChecksum(ctx context.Context, userID, checksum string) (*bq.AnalysisRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *bq.AnalysisRow
	for _, a := range r.analyses {
		if a.UserID != userID || a.ChecksumSHA256 != checksum {
			continue
		}
		if found == nil || a.CreatedTS.After(found.CreatedTS) {
			found = a
		}
	}
	if found == nil {
		return nil, nil
	}
	return copyAnalysis(found), nil
}

// GetAnalysis returns the analysis with the given id.
func (r *Repository) GetAnalysis(ctx context.Context, analysisID string) (*bq.AnalysisRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.analyses[analysisID]
	if !ok {
		return nil, fmt.Errorf("GetAnalysis: %s: %w", analysisID, bq.ErrAnalysisNotFound)
	}
	return copyAnalysis(a), nil
}

// ListAnalyses returns up to limit analyses of userID, newest first.
func (r *Repository) ListAnalyses(ctx context.Context, userID string, limit int) ([]*bq.AnalysisRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*bq.AnalysisRow
	for _, a := range r.analyses {
		if a.UserID == userID {
			result = append(result, copyAnalysis(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedTS.Equal(result[j].CreatedTS) {
			return result[i].AnalysisID < result[j].AnalysisID
		}
		return result[i].CreatedTS.After(result[j].CreatedTS)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// ListAnalysisTransactions returns the transactions of an analysis ordered by line number.
func (r *Repository) ListAnalysisTransactions(ctx context.Context, analysisID string) ([]*bq.AnalysisTransactionRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.transactions[analysisID]
	result := make([]*bq.AnalysisTransactionRow, 0, len(stored))
	for _, t := range stored {
		c := *t
		result = append(result, &c)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].LineNo < result[j].LineNo })
	return result, nil
}

// DeleteAnalysis removes an analysis and its transactions.
func (r *Repository) DeleteAnalysis(ctx context.Context, analysisID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.analyses[analysisID]; !ok {
		return fmt.Errorf("DeleteAnalysis: %s: %w", analysisID, bq.ErrAnalysisNotFound)
	}
	delete(r.analyses, analysisID)
	delete(r.transactions, analysisID)
	return nil
}

func copyAnalysis(a *bq.AnalysisRow) *bq.AnalysisRow {
	c := *a
	c.Insights = append([]string(nil), a.Insights...)
	return &c
}

var _ bq.AnalysisRepository = (*Repository)(nil)
