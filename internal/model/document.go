// Package model 定义了与数据库表对应的 Go 结构体以及管道中流转的数据结构。
package model

import "time"

// Document 对应于数据库中的 documents 表。
// 上传成功后创建，删除时级联删除其分块，从不原地修改。
type Document struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	FileName    string    `gorm:"type:varchar(255);not null" json:"filename"`
	UploadTime  time.Time `gorm:"not null;index" json:"upload_time"`
	ChunkIDs    []string  `gorm:"type:text;serializer:json;not null" json:"chunk_ids"`
	NumChunks   int       `gorm:"not null" json:"num_chunks"`
	StoragePath string    `gorm:"type:varchar(512);not null" json:"file_path"`
	FileMD5     string    `gorm:"type:varchar(32);index" json:"file_md5"`
	// DownloadURL 仅在查询单个文档时填充，不落库
	DownloadURL string `gorm:"-" json:"download_url,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// DocumentSummary 是文档列表接口返回的精简结构，不包含分块 ID。
type DocumentSummary struct {
	ID         string    `json:"id"`
	FileName   string    `json:"filename"`
	UploadTime LocalTime `json:"upload_time"`
	NumChunks  int       `json:"num_chunks"`
}

// Summary 生成文档的列表视图。
func (d *Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:         d.ID,
		FileName:   d.FileName,
		UploadTime: LocalTime(d.UploadTime),
		NumChunks:  d.NumChunks,
	}
}
