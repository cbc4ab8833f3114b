// Package pgindex 提供了基于 PostgreSQL + pgvector 的向量索引实现。
package pgindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"doc-qa-go/internal/config"
	"doc-qa-go/internal/model"
	"doc-qa-go/pkg/log"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// VectorIndex 把分块存放在一张带 vector 列的表中，使用 <=> 余弦距离检索。
type VectorIndex struct {
	db    *sql.DB
	table string
}

// Open 连接 PostgreSQL，并确保扩展、表与 HNSW 索引存在。
func Open(ctx context.Context, cfg config.PGVectorConfig, dims int) (*VectorIndex, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("打开 PostgreSQL 连接失败: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接 PostgreSQL 失败: %w", err)
	}

	idx := New(db, cfg.TableName)
	if err := idx.CreateTable(ctx, dims); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// New 使用已有连接创建向量索引，不做建表。
func New(db *sql.DB, table string) *VectorIndex {
	if table == "" {
		table = "doc_chunks"
	}
	return &VectorIndex{db: db, table: table}
}

// CreateTable 创建 vector 扩展、分块表与余弦距离索引，已存在时跳过。
func (v *VectorIndex) CreateTable(ctx context.Context, dims int) error {
	for _, stmt := range schemaStatements(v.table, dims) {
		if _, err := v.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("初始化 pgvector 表失败: %w", err)
		}
	}
	log.Infof("[PGVector] 已检查/创建表 %s, 向量维度: %d", v.table, dims)
	return nil
}

func schemaStatements(table string, dims int) []string {
	t := pq.QuoteIdentifier(table)
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			chunk_id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, t, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (document_id)`, pq.QuoteIdentifier(table+"_document_idx"), t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(table+"_embedding_idx"), t),
	}
}

// Upsert 在一个事务内写入全部分块，chunk_id 冲突时覆盖。
func (v *VectorIndex) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (chunk_id, document_id, filename, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			filename = EXCLUDED.filename,
			chunk_index = EXCLUDED.chunk_index,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`, pq.QuoteIdentifier(v.table)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.FileName, c.Index, c.Text, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("写入分块 %s 失败: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Search 返回与 vector 余弦距离最小的 k 个分块。
func (v *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	if k <= 0 {
		return []model.SearchHit{}, nil
	}
	rows, err := v.db.QueryContext(ctx, fmt.Sprintf(`SELECT chunk_id, document_id, filename, chunk_index, content, embedding <=> $1 AS distance
		FROM %s ORDER BY embedding <=> $1 LIMIT $2`, pq.QuoteIdentifier(v.table)),
		pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("pgvector 检索失败: %w", err)
	}
	defer rows.Close()

	var hits []model.SearchHit
	for rows.Next() {
		var h model.SearchHit
		if err := rows.Scan(&h.Chunk.ID, &h.Chunk.DocumentID, &h.Chunk.FileName, &h.Chunk.Index, &h.Chunk.Text, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []model.SearchHit{}
	}
	return hits, nil
}

// Delete 删除指定分块，不存在的 ID 被忽略。
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := v.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, pq.QuoteIdentifier(v.table)), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("pgvector 删除失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接。
func (v *VectorIndex) Close() error {
	return v.db.Close()
}
