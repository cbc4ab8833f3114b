// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"

	"doc-qa-go/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示按 ID 查询的记录不存在。
var ErrNotFound = errors.New("记录不存在")

// DocumentRepository 定义了对 documents 表的数据操作接口。
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id string) (*model.Document, error)
	// FindByFileMD5 返回内容 MD5 相同的最近一条文档，用于识别重复导入。
	FindByFileMD5(ctx context.Context, fileMD5 string) (*model.Document, error)
	// FindAll 按上传时间倒序返回全部文档。
	FindAll(ctx context.Context) ([]model.Document, error)
	// Delete 返回是否确实删除了一条记录。
	Delete(ctx context.Context, id string) (bool, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 保存一条文档元数据记录。
func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// FindByID 根据文档 ID 查找记录，不存在时返回 ErrNotFound。
func (r *documentRepository) FindByID(ctx context.Context, id string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByFileMD5 根据文件内容 MD5 查找文档，不存在时返回 ErrNotFound。
func (r *documentRepository) FindByFileMD5(ctx context.Context, fileMD5 string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("file_md5 = ?", fileMD5).Order("upload_time desc").First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindAll 返回全部文档，最新上传的在前。
func (r *documentRepository) FindAll(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).Order("upload_time desc").Find(&docs).Error
	return docs, err
}

// Delete 删除指定 ID 的文档记录。
func (r *documentRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Document{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
