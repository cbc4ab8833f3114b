// Package es 提供了基于 Elasticsearch dense_vector 的向量索引实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"doc-qa-go/internal/config"
	"doc-qa-go/internal/model"
	"doc-qa-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// VectorIndex 把分块及其向量存入一个 Elasticsearch 索引，并以 kNN 检索。
type VectorIndex struct {
	client    *elasticsearch.Client
	indexName string
}

// NewClient 根据配置创建 Elasticsearch 客户端。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// InitES 初始化 Elasticsearch 客户端，并确保向量索引存在。
func InitES(ctx context.Context, esCfg config.ElasticsearchConfig, dims int) (*VectorIndex, error) {
	client, err := NewClient(esCfg)
	if err != nil {
		return nil, err
	}
	idx := NewVectorIndex(client, esCfg.IndexName)
	if err := idx.createIndexIfNotExists(ctx, dims); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewVectorIndex 使用已有客户端创建向量索引，不检查索引是否存在。
func NewVectorIndex(client *elasticsearch.Client, indexName string) *VectorIndex {
	return &VectorIndex{client: client, indexName: indexName}
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func (v *VectorIndex) createIndexIfNotExists(ctx context.Context, dims int) error {
	res, err := v.client.Indices.Exists([]string{v.indexName}, v.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", v.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", v.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度与 embedding 模型保持一致，相似度使用 cosine
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)

	res, err = v.client.Indices.Create(
		v.indexName,
		v.client.Indices.Create.WithContext(ctx),
		v.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", v.indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", v.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, 向量维度: %d", v.indexName, dims)
	return nil
}

// Upsert 以 bulk 方式写入分块，chunk_id 作为文档 ID，重复写入即覆盖。
func (v *VectorIndex) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for i, c := range chunks {
		if err := enc.Encode(bulkAction{Index: &bulkMeta{Index: v.indexName, ID: c.ID}}); err != nil {
			return err
		}
		if err := enc.Encode(model.NewEsChunk(c, vectors[i])); err != nil {
			return err
		}
	}
	return v.bulk(ctx, &body, len(chunks))
}

// Delete 以 bulk 方式删除指定分块，不存在的 ID 被忽略。
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, id := range ids {
		if err := enc.Encode(bulkAction{Delete: &bulkMeta{Index: v.indexName, ID: id}}); err != nil {
			return err
		}
	}
	return v.bulk(ctx, &body, len(ids))
}

// Search 执行 kNN 检索，按相关度从高到低返回。
// Elasticsearch 的 cosine 得分为 (1+cos)/2，这里换算回余弦距离 1-cos = 2-2*score。
func (v *VectorIndex) Search(ctx context.Context, vector []float32, k int) ([]model.SearchHit, error) {
	if k <= 0 {
		return []model.SearchHit{}, nil
	}
	// kNN 的 num_candidates 上限为 10000，且 k 不能大于 num_candidates
	k = min(k, maxNumCandidates)
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": numCandidates(k),
		},
		"size":    k,
		"_source": []string{"chunk_id", "document_id", "filename", "chunk_index", "text_content"},
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := v.client.Search(
		v.client.Search.WithContext(ctx),
		v.client.Search.WithIndex(v.indexName),
		v.client.Search.WithBody(&buf),
	)
	if err != nil {
		log.Errorf("[ES] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[ES] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChunk `json:"_source"`
				Score  float64       `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.SearchHit{Chunk: h.Source.Chunk(), Distance: 2 - 2*h.Score})
	}
	return hits, nil
}

const maxNumCandidates = 10000

func numCandidates(k int) int {
	if k > maxNumCandidates/10 {
		return maxNumCandidates
	}
	return max(k*10, 100)
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

type bulkAction struct {
	Index  *bulkMeta `json:"index,omitempty"`
	Delete *bulkMeta `json:"delete,omitempty"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

func (v *VectorIndex) bulk(ctx context.Context, body io.Reader, n int) error {
	req := esapi.BulkRequest{
		Body:    body,
		Refresh: "true",
	}
	res, err := req.Do(ctx, v.client)
	if err != nil {
		return fmt.Errorf("elasticsearch bulk failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("[ES] bulk 请求出错: %s", res.String())
		return fmt.Errorf("elasticsearch bulk returned an error: %s", res.Status())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !br.Errors {
		log.Infof("[ES] bulk 完成, 条目数: %d", n)
		return nil
	}
	for _, item := range br.Items {
		for action, result := range item {
			// 删除不存在的文档返回 404，视为成功
			if action == "delete" && result.Status == http.StatusNotFound {
				continue
			}
			if result.Error != nil {
				return fmt.Errorf("elasticsearch bulk %s failed: %s: %s", action, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return nil
}
