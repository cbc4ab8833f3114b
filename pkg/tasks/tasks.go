// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask 描述一次异步文档导入：文件已落盘到上传目录，由消费者完成处理。
type IngestTask struct {
	TaskID   string `json:"task_id"`
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
}
