package pgindex

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"doc-qa-go/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatementsQuoteTableName(t *testing.T) {
	stmts := schemaStatements(`doc"chunks`, 384)
	require.Len(t, stmts, 4)
	assert.Equal(t, "CREATE EXTENSION IF NOT EXISTS vector", stmts[0])
	assert.Contains(t, stmts[1], `"doc""chunks"`)
	assert.Contains(t, stmts[1], "vector(384)")
	assert.Contains(t, stmts[3], "vector_cosine_ops")
}

func TestNewDefaultsTableName(t *testing.T) {
	assert.Equal(t, "doc_chunks", New(nil, "").table)
}

// 以下路径在访问数据库之前返回，不需要真实连接
func TestEarlyReturns(t *testing.T) {
	idx := New(nil, "doc_chunks")
	ctx := context.Background()

	assert.NoError(t, idx.Upsert(ctx, nil, nil))
	assert.Error(t, idx.Upsert(ctx, []model.Chunk{{ID: "c1"}}, nil))
	assert.NoError(t, idx.Delete(ctx, nil))

	hits, err := idx.Search(ctx, []float32{1}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// recordingMatcher 按正则匹配 SQL，并记录实际执行的语句。
type recordingMatcher struct {
	queries []string
}

func (m *recordingMatcher) Match(expectedSQL, actualSQL string) error {
	m.queries = append(m.queries, actualSQL)
	return sqlmock.QueryMatcherRegexp.Match(expectedSQL, actualSQL)
}

func newMockIndex(t *testing.T) (*VectorIndex, sqlmock.Sqlmock, *recordingMatcher) {
	t.Helper()
	matcher := &recordingMatcher{}
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(matcher))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "doc_chunks"), mock, matcher
}

func TestUpsert_WritesAllChunksInOneTransaction(t *testing.T) {
	idx, mock, _ := newMockIndex(t)
	chunks := []model.Chunk{
		{ID: "c1", DocumentID: "d1", FileName: "a.txt", Index: 0, Text: "first"},
		{ID: "c2", DocumentID: "d1", FileName: "a.txt", Index: 1, Text: "second"},
	}
	vectors := [][]float32{{1, 0}, {0, 1}}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "doc_chunks"`) + `.*ON CONFLICT \(chunk_id\) DO UPDATE`)
	prep.ExpectExec().
		WithArgs("c1", "d1", "a.txt", 0, "first", pgvector.NewVector(vectors[0])).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("c2", "d1", "a.txt", 1, "second", pgvector.NewVector(vectors[1])).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, idx.Upsert(context.Background(), chunks, vectors))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RollsBackOnFailure(t *testing.T) {
	idx, mock, _ := newMockIndex(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO "doc_chunks"`))
	prep.ExpectExec().WillReturnError(errors.New("dimension mismatch"))
	mock.ExpectRollback()

	err := idx.Upsert(context.Background(), []model.Chunk{{ID: "c1"}}, [][]float32{{1}})
	assert.ErrorContains(t, err, "c1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_OrdersByDistanceOperator(t *testing.T) {
	idx, mock, matcher := newMockIndex(t)
	vector := []float32{1, 0}

	rows := sqlmock.NewRows([]string{"chunk_id", "document_id", "filename", "chunk_index", "content", "distance"}).
		AddRow("c1", "d1", "a.txt", 0, "first", 0.1).
		AddRow("c2", "d1", "a.txt", 1, "second", 0.7)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "doc_chunks" ORDER BY embedding <=> $1 LIMIT $2`)).
		WithArgs(pgvector.NewVector(vector), 2).
		WillReturnRows(rows)

	hits, err := idx.Search(context.Background(), vector, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, "first", hits[0].Chunk.Text)
	assert.Equal(t, 1, hits[1].Chunk.Index)
	assert.InDelta(t, 0.7, hits[1].Distance, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())

	// 排序表达式必须与 HNSW 索引的 <=> 一致，附加排序键会退化为全表扫描
	require.Len(t, matcher.queries, 1)
	assert.NotContains(t, matcher.queries[0], "chunk_id ASC")
}

func TestSearch_HugeKDoesNotPreallocate(t *testing.T) {
	idx, mock, _ := newMockIndex(t)
	mock.ExpectQuery(`ORDER BY embedding`).
		WithArgs(sqlmock.AnyArg(), 1<<40).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "document_id", "filename", "chunk_index", "content", "distance"}))

	hits, err := idx.Search(context.Background(), []float32{1}, 1<<40)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_UsesAnyArray(t *testing.T) {
	idx, mock, _ := newMockIndex(t)
	ids := []string{"c1", "c2"}
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "doc_chunks" WHERE chunk_id = ANY($1)`)).
		WithArgs(pq.Array(ids)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, idx.Delete(context.Background(), ids))
	assert.NoError(t, mock.ExpectationsWereMet())
}
